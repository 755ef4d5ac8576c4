package dialect

import (
	"github.com/zhongdj/reactiveservices/internal/streamstate"
	"github.com/zhongdj/reactiveservices/internal/subject"
)

// Node-link record kinds. These never cross a consumer connection: they are
// exchanged between an aggregator and a remote endpoint hub and are keyed by
// full subjects, since aliases exist only at the consumer boundary.
const (
	kindOpenLocalStream      byte = 0x20
	kindCloseLocalStream     byte = 0x21
	kindOpenLocalStreams     byte = 0x22
	kindCloseAllLocalStreams byte = 0x23
	kindGrantDemand          byte = 0x24
	kindResetLocalStream     byte = 0x25
	kindSubjectSnapshot      byte = 0x26
	kindSubjectTransition    byte = 0x27
	kindSubjectClosed        byte = 0x28
	kindSubjectInvalid       byte = 0x29
	kindForwardSignal        byte = 0x2a
)

// OpenLocalStream asks the endpoint hub to open the subject's stream and
// start forwarding updates.
type OpenLocalStream struct {
	Subject subject.Subject
}

// CloseLocalStream asks the endpoint hub to stop forwarding the subject.
type CloseLocalStream struct {
	Subject subject.Subject
}

// OpenLocalStreams opens a batch of subjects, used after a binding change.
type OpenLocalStreams struct {
	Subjects []subject.Subject
}

// CloseAllLocalStreams detaches the consumer from every open stream.
type CloseAllLocalStreams struct{}

// GrantDemand hands the endpoint hub N more upstream demand tokens.
type GrantDemand struct {
	N uint32
}

// ResetLocalStream asks the endpoint hub for a fresh snapshot of the
// subject, after an inapplicable delta or a consumer reset.
type ResetLocalStream struct {
	Subject subject.Subject
}

// SubjectSnapshot carries a full state snapshot on the node link.
type SubjectSnapshot struct {
	Subject subject.Subject
	State   streamstate.State
}

// SubjectTransition carries a delta on the node link.
type SubjectTransition struct {
	Subject    subject.Subject
	Transition streamstate.Transition
}

// SubjectClosed reports a producer-side stream close on the node link.
type SubjectClosed struct {
	Subject subject.Subject
}

// SubjectInvalid reports a rejected subject on the node link.
type SubjectInvalid struct {
	Subject subject.Subject
}

// ForwardSignal carries a consumer signal to the producing node. ReplyTo
// names the cluster address acks should be published to.
type ForwardSignal struct {
	Signal  Signal
	ReplyTo string
}

func (OpenLocalStream) dialectMessage()      {}
func (CloseLocalStream) dialectMessage()     {}
func (OpenLocalStreams) dialectMessage()     {}
func (CloseAllLocalStreams) dialectMessage() {}
func (GrantDemand) dialectMessage()          {}
func (ResetLocalStream) dialectMessage()     {}
func (SubjectSnapshot) dialectMessage()      {}
func (SubjectTransition) dialectMessage()    {}
func (SubjectClosed) dialectMessage()        {}
func (SubjectInvalid) dialectMessage()       {}
func (ForwardSignal) dialectMessage()        {}
