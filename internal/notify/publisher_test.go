package notify

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mathias-muench/igc-lab/internal/corpus"
	"github.com/mathias-muench/igc-lab/internal/flight"
	"github.com/mathias-muench/igc-lab/internal/normalize"
)

type sent struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs    []sent
	flushed bool
	closed  bool
	failOn  string
}

func (f *fakeConn) Publish(subj string, data []byte) error {
	if subj == f.failOn {
		return errors.New("broken pipe")
	}
	f.msgs = append(f.msgs, sent{subj, data})
	return nil
}

func (f *fakeConn) Flush() error { f.flushed = true; return nil }
func (f *fakeConn) Close()       { f.closed = true }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCorpus() *corpus.Corpus {
	t0 := time.Date(2023, 6, 10, 10, 0, 0, 0, time.UTC)
	return &corpus.Corpus{
		Metadata: []normalize.MetadataRow{
			{Key: flight.Key{ManufacturerCode: "LXN", UniqueID: "AAA", Date: "2023-06-10"}, Pilot: "A", FirstFix: t0, LastFix: t0},
			{Key: flight.Key{ManufacturerCode: "LXN", UniqueID: "BBB", Date: "2023-06-10"}, Pilot: "B", FirstFix: t0, LastFix: t0},
		},
		Rejected: []corpus.Rejection{
			{Key: flight.OpaqueKey("short.igc"), Notes: []string{"no takeoff detected"}, Err: errors.New("invalid")},
		},
	}
}

func TestPublishCorpus(t *testing.T) {
	fc := &fakeConn{}
	p := newPublisher(fc, "", quietLogger())

	if err := p.PublishCorpus(testCorpus()); err != nil {
		t.Fatalf("PublishCorpus() error = %v", err)
	}
	if !fc.flushed {
		t.Error("connection not flushed")
	}

	wantSubjects := []string{"igc.corpus.flight", "igc.corpus.flight", "igc.corpus.rejected", "igc.corpus.batch"}
	if len(fc.msgs) != len(wantSubjects) {
		t.Fatalf("sent %d messages, want %d", len(fc.msgs), len(wantSubjects))
	}
	for i, want := range wantSubjects {
		if fc.msgs[i].subject != want {
			t.Errorf("message %d subject = %q, want %q", i, fc.msgs[i].subject, want)
		}
	}

	var fm FlightMessage
	if err := json.Unmarshal(fc.msgs[1].data, &fm); err != nil {
		t.Fatalf("unmarshal flight: %v", err)
	}
	if fm.Flight.Key.UniqueID != "BBB" || fm.Flight.Pilot != "B" {
		t.Errorf("flight message = %+v", fm)
	}

	var rm RejectedMessage
	if err := json.Unmarshal(fc.msgs[2].data, &rm); err != nil {
		t.Fatalf("unmarshal rejected: %v", err)
	}
	if rm.Key.Opaque != "short.igc" || rm.Error != "invalid" {
		t.Errorf("rejected message = %+v", rm)
	}

	var bm BatchMessage
	if err := json.Unmarshal(fc.msgs[3].data, &bm); err != nil {
		t.Fatalf("unmarshal batch: %v", err)
	}
	if bm.Summary.Flights != 2 || bm.Summary.Rejected != 1 {
		t.Errorf("batch summary = %+v", bm.Summary)
	}
}

func TestPublishCorpusError(t *testing.T) {
	fc := &fakeConn{failOn: "jobs.rejected"}
	p := newPublisher(fc, "jobs", quietLogger())

	if err := p.PublishCorpus(testCorpus()); err == nil {
		t.Fatal("PublishCorpus() should fail when publishing fails")
	}
	if fc.flushed {
		t.Error("flushed after a failed publish")
	}

	p.Close()
	if !fc.closed {
		t.Error("Close() did not close the connection")
	}
}
