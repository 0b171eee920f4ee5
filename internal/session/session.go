package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zombor/shiori/internal/asset"
	"github.com/zombor/shiori/internal/expense"
	"github.com/zombor/shiori/internal/media"
	"github.com/zombor/shiori/internal/scanning"
	"github.com/zombor/shiori/internal/submission"
	"github.com/zombor/shiori/internal/trip"
)

var (
	// ErrSubmissionFailed is returned when the submission could not be
	// delivered. The session has been reset when it is returned.
	ErrSubmissionFailed = errors.New("submission failed")
	// ErrResolving is returned when submitting while photo metadata or place
	// names are still loading
	ErrResolving = errors.New("place names are still resolving")
)

// PlaceState is the view of the place resolver the session needs
type PlaceState interface {
	Loading() bool
	Reset()
}

// Submitter transmits an assembled request
type Submitter interface {
	Submit(ctx context.Context, req *submission.Request) (*submission.Artifact, error)
}

// Session drives one trip from photo upload to submission. It owns the
// expense ledger and trip fields; assets live in the registry.
type Session struct {
	registry   *asset.Registry
	places     PlaceState
	recognizer *scanning.Recognizer
	assembler  *submission.Assembler
	submitter  Submitter
	notifier   Notifier

	mu     sync.Mutex
	ledger *expense.Ledger
	fields trip.Fields
}

// New creates a Session that reports notices through the logger
func New(registry *asset.Registry, places PlaceState, recognizer *scanning.Recognizer, submitter Submitter) *Session {
	return NewWithDeps(registry, places, recognizer, submission.NewAssembler(), submitter, LogNotifier{})
}

// NewWithDeps creates a Session with a custom assembler and notifier
func NewWithDeps(registry *asset.Registry, places PlaceState, recognizer *scanning.Recognizer, assembler *submission.Assembler, submitter Submitter, notifier Notifier) *Session {
	return &Session{
		registry:   registry,
		places:     places,
		recognizer: recognizer,
		assembler:  assembler,
		submitter:  submitter,
		notifier:   notifier,
		ledger:     expense.NewLedger(),
	}
}

// AddPhotos adds trip photos and warns about skipped duplicates
func (s *Session) AddPhotos(blobs []media.Blob) []asset.Asset {
	assets, skipped := s.registry.Add(blobs)
	if skipped > 0 {
		s.notifier.Notify(Notice{
			Level:   LevelWarning,
			Title:   "重複をスキップ",
			Message: fmt.Sprintf("%d件の重複画像をスキップしました", skipped),
		})
	}
	return assets
}

// RemovePhoto drops a photo
func (s *Session) RemovePhoto(identityKey string) bool {
	return s.registry.Remove(identityKey)
}

// SetPlaceName records a place name typed by the user
func (s *Session) SetPlaceName(identityKey, name string) bool {
	return s.registry.SetPlaceName(identityKey, trip.SanitizeText(name), asset.SourceUser)
}

// Photos returns the current photos
func (s *Session) Photos() []asset.Asset {
	return s.registry.Assets()
}

// SetTrip replaces the trip fields
func (s *Session) SetTrip(f trip.Fields) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields = f
}

// Trip returns the trip fields
func (s *Session) Trip() trip.Fields {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fields
}

// ImportReceipt recognizes a receipt photo and prefills the draft with its
// lines. Recognition failures are reported as notices and leave the draft
// and ledger untouched.
func (s *Session) ImportReceipt(ctx context.Context, b media.Blob, d *expense.Draft) error {
	data, err := media.ReadAll(b)
	if err != nil {
		s.notifyReceiptFailure(err)
		return fmt.Errorf("reading receipt: %w", err)
	}

	text, err := s.recognizer.Run(ctx, data, b.ContentType())
	if err != nil {
		s.notifyReceiptFailure(err)
		return err
	}

	s.ApplyReceipt(scanning.FromParse(scanning.ParseLines(text)), d)
	return nil
}

// ScanReceipt prefills the draft through a Scanner, such as a remote receipt
// service, instead of the local recognizer. Failures are reported the same
// way as in ImportReceipt.
func (s *Session) ScanReceipt(ctx context.Context, scanner scanning.Scanner, b media.Blob, d *expense.Draft) error {
	data, err := media.ReadAll(b)
	if err != nil {
		s.notifyReceiptFailure(err)
		return fmt.Errorf("reading receipt: %w", err)
	}

	result, err := scanner.ScanReceipt(ctx, data, b.ContentType())
	if err != nil {
		slog.Warn("Receipt scan failed", "receipt", b.Name(), "error", err)
		s.notifyReceiptFailure(err)
		return fmt.Errorf("scanning receipt: %w", err)
	}

	s.ApplyReceipt(result, d)
	return nil
}

// ApplyReceipt prefills the draft from already scanned receipt data
func (s *Session) ApplyReceipt(data *scanning.ReceiptData, d *expense.Draft) {
	lines := make([]expense.Line, 0, len(data.Items))
	for _, it := range data.Items {
		lines = append(lines, expense.Line{Name: it.Name, Amount: it.Amount})
	}

	if len(lines) == 0 {
		s.notifier.Notify(Notice{
			Level:   LevelInfo,
			Title:   "明細が見つかりませんでした",
			Message: "金額を手入力してください",
		})
	}
	d.Prefill(lines, data.Total, data.StoreName)
}

func (s *Session) notifyReceiptFailure(err error) {
	msg := "レシートの読み取りに失敗しました"
	if errors.Is(err, scanning.ErrCanceled) {
		msg = "レシートの読み取りを中止しました"
	}
	s.notifier.Notify(Notice{Level: LevelError, Title: "OCRエラー", Message: msg})
}

// CancelReceipt abandons a running receipt recognition
func (s *Session) CancelReceipt() bool {
	return s.recognizer.Cancel()
}

// ReceiptState returns the recognizer state
func (s *Session) ReceiptState() scanning.Snapshot {
	return s.recognizer.Snapshot()
}

// SaveEntry saves a draft into the ledger
func (s *Session) SaveEntry(d *expense.Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return d.Save(s.ledger)
}

// SaveEntryAndContinue appends a draft to the ledger and clears it
func (s *Session) SaveEntryAndContinue(d *expense.Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return d.SaveAndContinue(s.ledger)
}

// EditEntry opens a draft for ledger entry i
func (s *Session) EditEntry(i int) (*expense.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return expense.EditDraft(s.ledger, i)
}

// DeleteEntry removes ledger entry i
func (s *Session) DeleteEntry(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Remove(i)
}

// ResetLedger removes every ledger entry
func (s *Session) ResetLedger() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger.Reset()
}

// Entries returns the ledger entries
func (s *Session) Entries() []expense.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Entries()
}

// CanAdvance reports whether the flow may move past the photo step: no
// extraction is pending and no place name is still being resolved
func (s *Session) CanAdvance() bool {
	return !s.registry.Pending() && !s.registry.Resolving() && !s.places.Loading()
}

// Submit assembles and transmits the trip. If transmission fails the whole
// session is reset and ErrSubmissionFailed is returned.
func (s *Session) Submit(ctx context.Context) (*submission.Artifact, error) {
	if !s.CanAdvance() {
		return nil, ErrResolving
	}

	s.mu.Lock()
	entries := s.ledger.Entries()
	fields := s.fields.Normalized()
	s.mu.Unlock()

	req, err := s.assembler.Assemble(s.registry.Assets(), entries, fields)
	if err != nil {
		return nil, fmt.Errorf("assembling submission: %w", err)
	}

	artifact, err := s.submitter.Submit(ctx, req)
	if err != nil {
		slog.Error("Submission failed", "images", len(req.Parts), "error", err)
		s.Reset()
		s.notifier.Notify(Notice{
			Level:   LevelError,
			Title:   "生成に失敗しました",
			Message: "最初からやり直してください",
		})
		return nil, fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
	}

	slog.Info("Submission complete", "bytes", len(artifact.Data), "content_type", artifact.ContentType)
	return artifact, nil
}

// Reset abandons all session state
func (s *Session) Reset() {
	s.registry.Clear()
	s.places.Reset()
	s.recognizer.Reset()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger.Reset()
	s.fields = trip.Fields{}
}
