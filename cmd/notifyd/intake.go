package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"notifyd/internal/delivery"
	"notifyd/internal/runtime/supervisor"
	logx "notifyd/pkg/logx"
)

const maxLineBytes = 1 << 20

type submitter interface {
	Submit(ctx context.Context, req delivery.Request) (delivery.Record, error)
	List(ctx context.Context) ([]delivery.Record, error)
}

// intake reads JSON-lines requests and writes one JSON line per outcome:
// the terminal record, or {"line":n,"error":"..."} for rejected input.
type intake struct {
	eng submitter
	log logx.Logger

	mu  sync.Mutex
	enc *json.Encoder
}

type intakeError struct {
	Line  int    `json:"line"`
	Error string `json:"error"`
}

func newIntake(eng submitter, out io.Writer, log logx.Logger) *intake {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &intake{eng: eng, log: log, enc: json.NewEncoder(out)}
}

func (in *intake) emit(v any) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if err := in.enc.Encode(v); err != nil {
		in.log.Warn("write output failed", logx.Err(err))
	}
}

// parseRequest strictly decodes one line and validates it.
func parseRequest(line []byte) (delivery.Request, error) {
	var req delivery.Request
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return delivery.Request{}, fmt.Errorf("decode request: %w", err)
	}
	if dec.More() {
		return delivery.Request{}, fmt.Errorf("decode request: trailing data")
	}
	if err := req.Validate(); err != nil {
		return delivery.Request{}, err
	}
	return req, nil
}

// Run submits every valid line concurrently and returns once r is
// exhausted and all submissions finished, or ctx is done. Submissions still
// running when ctx ends are failed by the engine and still reported.
func (in *intake) Run(ctx context.Context, r io.Reader) error {
	sup := supervisor.New(context.WithoutCancel(ctx), supervisor.WithLogger(in.log))

	type scanned struct {
		n    int
		text []byte
	}
	lines := make(chan scanned)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		n := 0
		for sc.Scan() {
			n++
			b := bytes.TrimSpace(sc.Bytes())
			if len(b) == 0 {
				continue
			}
			select {
			case lines <- scanned{n: n, text: append([]byte(nil), b...)}:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			runErr = ctx.Err()
			break loop
		case l, ok := <-lines:
			if !ok {
				select {
				case runErr = <-scanErr:
				default:
				}
				break loop
			}
			req, err := parseRequest(l.text)
			if err != nil {
				in.log.Warn("request rejected", logx.Int("line", l.n), logx.Err(err))
				in.emit(intakeError{Line: l.n, Error: err.Error()})
				continue
			}
			name := fmt.Sprintf("submit.%d", l.n)
			sup.Go(name, func(context.Context) error {
				rec, err := in.eng.Submit(ctx, req)
				if err != nil {
					in.log.Error("submit failed", logx.Int("line", l.n), logx.Err(err))
					in.emit(intakeError{Line: l.n, Error: err.Error()})
					return nil
				}
				in.emit(rec)
				return nil
			})
		}
	}

	// Submissions observe ctx themselves; waiting here lets their failed
	// records reach the output.
	if err := sup.Wait(context.Background()); err != nil {
		in.log.Warn("intake worker error", logx.Err(err))
	}
	if runErr != nil {
		return fmt.Errorf("intake: %w", runErr)
	}
	return nil
}

// List writes every stored record as one JSON line.
func (in *intake) List(ctx context.Context) error {
	recs, err := in.eng.List(ctx)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		in.emit(rec)
	}
	return nil
}
