package eventstest

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/hms/ledger/internal/platform/events"
)

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Publish(context.Background(), events.New(events.InvoiceCreated, "a", nil))
	r.Publish(context.Background(), events.New(events.InvoiceDeleted, "a", nil))
	types := r.Types()
	if len(types) != 2 || types[0] != events.InvoiceCreated || types[1] != events.InvoiceDeleted {
		t.Errorf("unexpected types: %v", types)
	}
	if got := r.Events(); len(got) != 2 || got[0].Key != "a" {
		t.Errorf("unexpected events: %+v", got)
	}
}

func TestRecorder_SatisfiesPublisher(t *testing.T) {
	var p events.Publisher = &Recorder{}
	events.Emit(context.Background(), p, zerolog.Nop(), events.New(events.PaymentRecorded, "inv", nil))
	if types := p.(*Recorder).Types(); len(types) != 1 || types[0] != events.PaymentRecorded {
		t.Errorf("unexpected types: %v", types)
	}
}
