package transports

import (
	"context"
	"fmt"
	"time"

	rsclient "github.com/zhongdj/reactiveservices/internal/client"
	"github.com/zhongdj/reactiveservices/internal/streamstate"
	"github.com/zhongdj/reactiveservices/internal/subject"
	logpkg "github.com/zhongdj/reactiveservices/pkg/log"
)

// WSTransport speaks the binary dialect over a WebSocket connection.
type WSTransport struct {
	url string
	log logpkg.Logger
}

// NewWSTransport builds a transport dialing the given ws:// URL.
func NewWSTransport(url string, logger logpkg.Logger) *WSTransport {
	return &WSTransport{url: url, log: logger}
}

var _ StreamTransport = (*WSTransport)(nil)

// Subscribe dials, opens the stream, and pumps updates into onUpdate.
func (t *WSTransport) Subscribe(ctx context.Context, req SubscribeRequest, onUpdate func(Update) error) error {
	c, err := rsclient.Dial(ctx, rsclient.Options{URL: t.url, Logger: t.log})
	if err != nil {
		return err
	}
	defer c.Close()

	subj := subject.New(req.Service, req.Topic, req.Tags)
	sub, err := c.Subscribe(subj, rsclient.SubscribeOptions{
		PriorityKey:   req.PriorityKey,
		AggregationMs: req.AggregationMs,
	})
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-sub.Updates():
			if !ok {
				return nil
			}
			if err := onUpdate(toCLIUpdate(u)); err != nil {
				return err
			}
			if u.Kind == rsclient.UpdateClosed {
				return nil
			}
		}
	}
}

// Signal sends one signal, awaiting the ack when requested.
func (t *WSTransport) Signal(ctx context.Context, req SignalRequest) (Ack, error) {
	c, err := rsclient.Dial(ctx, rsclient.Options{URL: t.url, Logger: t.log})
	if err != nil {
		return Ack{}, err
	}
	defer c.Close()

	subj := subject.New(req.Service, req.Topic, req.Tags)
	opts := rsclient.SignalOptions{}
	if req.ExpiryMs > 0 {
		opts.Expiry = time.Duration(req.ExpiryMs) * time.Millisecond
	}
	if !req.Await {
		return Ack{OK: true}, c.SignalAsync(subj, req.Payload, opts)
	}
	ack, err := c.Signal(ctx, subj, req.Payload, opts)
	if err != nil {
		return Ack{}, err
	}
	return Ack{OK: ack.OK, Payload: ack.Payload}, nil
}

func toCLIUpdate(u rsclient.Update) Update {
	out := Update{Subject: u.Subject.Key()}
	switch u.Kind {
	case rsclient.UpdateSnapshot:
		out.Kind = "snapshot"
	case rsclient.UpdateTransition:
		out.Kind = "update"
	case rsclient.UpdateClosed:
		out.Kind = "closed"
	case rsclient.UpdateNotAvailable:
		out.Kind = "service-not-available"
	case rsclient.UpdateInvalid:
		out.Kind = "invalid-request"
	default:
		out.Kind = fmt.Sprintf("kind-%d", u.Kind)
	}
	if u.State != nil {
		out.State = stateToJSON(u.State)
	}
	return out
}

// stateToJSON renders a stream state as plain JSON-able data.
func stateToJSON(s streamstate.State) any {
	switch st := s.(type) {
	case streamstate.StringState:
		return st.Value
	case streamstate.SetState:
		return map[string]any{
			"version":  st.Version,
			"elements": st.SortedElements(),
			"partial":  st.PartialUpdates,
		}
	case streamstate.ListState:
		return map[string]any{
			"capacity": st.Capacity,
			"evict":    st.Evict.String(),
			"items":    st.Items,
		}
	case streamstate.DictMapState:
		row := make(map[string]any, len(st.Columns))
		for i, col := range st.Columns {
			if i >= len(st.Row) {
				break
			}
			switch st.Row[i].Type {
			case streamstate.ColString:
				row[col.Name] = st.Row[i].Str
			case streamstate.ColInt:
				row[col.Name] = st.Row[i].Int
			case streamstate.ColBool:
				row[col.Name] = st.Row[i].Bool
			}
		}
		return row
	default:
		return nil
	}
}
