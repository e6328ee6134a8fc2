package events

import (
	"encoding/json"
	"errors"
	"strings"

	"backend-fieldops/internal/tracking"

	"github.com/nats-io/nats.go"
)

// SamplesSubject is where devices, or a gateway in front of them, push raw
// location samples: fieldops.samples.<staff>.
const SamplesSubject = SubjectPrefix + ".samples.*"

type SampleHandler func(staffID string, s tracking.Sample)

// SubscribeSamples delivers every well-formed sample message to handle.
func (p *Publisher) SubscribeSamples(handle SampleHandler) (*nats.Subscription, error) {
	if p.nc == nil {
		return nil, errors.New("nats connection required")
	}
	return p.nc.Subscribe(SamplesSubject, func(msg *nats.Msg) {
		p.dispatchSample(msg, handle)
	})
}

func (p *Publisher) dispatchSample(msg *nats.Msg, handle SampleHandler) {
	staffID := staffFromSubject(msg.Subject)
	if staffID == "" {
		p.log.WithField("subject", msg.Subject).Warn("sample subject without staff")
		return
	}
	var s tracking.Sample
	if err := json.Unmarshal(msg.Data, &s); err != nil {
		p.log.WithError(err).WithField("staff_id", staffID).Warn("decode sample")
		return
	}
	handle(staffID, s)
}

func staffFromSubject(subject string) string {
	const prefix = SubjectPrefix + ".samples."
	if !strings.HasPrefix(subject, prefix) {
		return ""
	}
	return subject[len(prefix):]
}
