package cli

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"pulsequiz-sync/internal/domain"
)

// ndjsonJournal prints every recorded event as one JSON line.
type ndjsonJournal struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newNDJSONJournal(w io.Writer) *ndjsonJournal {
	return &ndjsonJournal{enc: json.NewEncoder(w)}
}

type ndjsonLine struct {
	Code  string       `json:"code"`
	Type  string       `json:"type"`
	Event domain.Event `json:"event"`
}

func (j *ndjsonJournal) Record(_ context.Context, code string, evt domain.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(ndjsonLine{Code: code, Type: string(evt.Type), Event: evt})
}
