package extraction

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zombor/iban-extractor/internal/scanning"
)

// mockDB is an in-memory DB. errs makes a method fail on every call;
// failures makes it fail that many times and then succeed.
type mockDB struct {
	mu          sync.Mutex
	vendors     map[string]*Vendor
	patterns    map[string]*Pattern
	extractions map[string]*Extraction
	alerts      map[string]*Alert
	batches     map[string]*BatchStats

	errs     map[string]error
	failures map[string]int
	calls    map[string]int
}

func newMockDB() *mockDB {
	return &mockDB{
		vendors:     make(map[string]*Vendor),
		patterns:    make(map[string]*Pattern),
		extractions: make(map[string]*Extraction),
		alerts:      make(map[string]*Alert),
		batches:     make(map[string]*BatchStats),
		errs:        make(map[string]error),
		failures:    make(map[string]int),
		calls:       make(map[string]int),
	}
}

// check must be called with mu held
func (m *mockDB) check(method string) error {
	m.calls[method]++
	if err := m.errs[method]; err != nil {
		return err
	}
	if m.failures[method] > 0 {
		m.failures[method]--
		return fmt.Errorf("%s: transient failure", method)
	}
	return nil
}

func (m *mockDB) callCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *mockDB) SaveVendor(ctx context.Context, vendor *Vendor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("SaveVendor"); err != nil {
		return err
	}
	v := *vendor
	m.vendors[vendor.ID] = &v
	return nil
}

func (m *mockDB) GetVendor(ctx context.Context, id string) (*Vendor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("GetVendor"); err != nil {
		return nil, err
	}
	v, ok := m.vendors[id]
	if !ok {
		return nil, fmt.Errorf("vendor %s: %w", id, ErrNotFound)
	}
	out := *v
	return &out, nil
}

func (m *mockDB) ListVendors(ctx context.Context) ([]*Vendor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("ListVendors"); err != nil {
		return nil, err
	}
	vendors := make([]*Vendor, 0, len(m.vendors))
	for _, v := range m.vendors {
		out := *v
		vendors = append(vendors, &out)
	}
	sort.Slice(vendors, func(i, j int) bool { return vendors[i].ID < vendors[j].ID })
	return vendors, nil
}

func (m *mockDB) SavePattern(ctx context.Context, pattern *Pattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("SavePattern"); err != nil {
		return err
	}
	p := *pattern
	m.patterns[pattern.ID] = &p
	return nil
}

func (m *mockDB) ListPatterns(ctx context.Context, vendorID string) ([]*Pattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("ListPatterns"); err != nil {
		return nil, err
	}
	patterns := make([]*Pattern, 0)
	for _, p := range m.patterns {
		if p.VendorID == vendorID {
			out := *p
			patterns = append(patterns, &out)
		}
	}
	return patterns, nil
}

func (m *mockDB) SaveExtraction(ctx context.Context, extraction *Extraction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("SaveExtraction"); err != nil {
		return err
	}
	e := *extraction
	m.extractions[extraction.ID] = &e
	return nil
}

func (m *mockDB) GetExtraction(ctx context.Context, id string) (*Extraction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("GetExtraction"); err != nil {
		return nil, err
	}
	e, ok := m.extractions[id]
	if !ok {
		return nil, fmt.Errorf("extraction %s: %w", id, ErrNotFound)
	}
	out := *e
	return &out, nil
}

func (m *mockDB) ListExtractions(ctx context.Context, filter ExtractionFilter) ([]*Extraction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("ListExtractions"); err != nil {
		return nil, err
	}
	extractions := make([]*Extraction, 0)
	for _, e := range m.extractions {
		if filter.matches(e) {
			out := *e
			extractions = append(extractions, &out)
		}
	}
	sort.Slice(extractions, func(i, j int) bool {
		if extractions[i].ProcessedAt.Equal(extractions[j].ProcessedAt) {
			return extractions[i].ID < extractions[j].ID
		}
		return extractions[i].ProcessedAt.Before(extractions[j].ProcessedAt)
	})
	return extractions, nil
}

func (m *mockDB) LatestAcceptedIBAN(ctx context.Context, vendorID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("LatestAcceptedIBAN"); err != nil {
		return "", err
	}
	var latest *Extraction
	for _, e := range m.extractions {
		if e.VendorID != vendorID || !e.HasAcceptedIBAN() {
			continue
		}
		if latest == nil || acceptedAt(e).After(acceptedAt(latest)) {
			latest = e
		}
	}
	if latest == nil {
		return "", nil
	}
	return latest.IBAN, nil
}

func (m *mockDB) SaveAlert(ctx context.Context, alert *Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("SaveAlert"); err != nil {
		return err
	}
	a := *alert
	m.alerts[alert.ID] = &a
	return nil
}

// SaveResult fails as a whole when any of the writes it bundles would fail
func (m *mockDB) SaveResult(ctx context.Context, pattern *Pattern, extraction *Extraction, alerts []*Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("SaveResult"); err != nil {
		return err
	}
	if err := m.check("SavePattern"); err != nil {
		return err
	}
	if err := m.check("SaveExtraction"); err != nil {
		return err
	}
	for range alerts {
		if err := m.check("SaveAlert"); err != nil {
			return err
		}
	}

	p := *pattern
	m.patterns[pattern.ID] = &p
	e := *extraction
	m.extractions[extraction.ID] = &e
	for _, alert := range alerts {
		a := *alert
		m.alerts[alert.ID] = &a
	}
	return nil
}

func (m *mockDB) GetAlert(ctx context.Context, id string) (*Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("GetAlert"); err != nil {
		return nil, err
	}
	a, ok := m.alerts[id]
	if !ok {
		return nil, fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	out := *a
	return &out, nil
}

func (m *mockDB) ListAlerts(ctx context.Context, filter AlertFilter) ([]*Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("ListAlerts"); err != nil {
		return nil, err
	}
	alerts := make([]*Alert, 0)
	for _, a := range m.alerts {
		if filter.matches(a) {
			out := *a
			alerts = append(alerts, &out)
		}
	}
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].CreatedAt.After(alerts[j].CreatedAt) })
	return alerts, nil
}

func (m *mockDB) SaveBatchStats(ctx context.Context, stats *BatchStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("SaveBatchStats"); err != nil {
		return err
	}
	s := *stats
	m.batches[stats.ID] = &s
	return nil
}

func (m *mockDB) ListBatchStats(ctx context.Context) ([]*BatchStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("ListBatchStats"); err != nil {
		return nil, err
	}
	batches := make([]*BatchStats, 0, len(m.batches))
	for _, b := range m.batches {
		out := *b
		batches = append(batches, &out)
	}
	return batches, nil
}

func (m *mockDB) Close() error {
	return nil
}

// mockStorage is an in-memory Storage
type mockStorage struct {
	mu        sync.Mutex
	files     map[string][]byte
	saveErr   error
	failSaves int
	saves     int
	deleteErr error
	deleted   []string
}

func newMockStorage() *mockStorage {
	return &mockStorage{
		files: make(map[string][]byte),
	}
}

func (m *mockStorage) Save(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return "", m.saveErr
	}
	if m.failSaves > 0 {
		m.failSaves--
		return "", errors.New("storage unavailable")
	}
	m.files[key] = data
	return key, nil
}

func (m *mockStorage) Get(ctx context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("file %s: %w", path, ErrNotFound)
	}
	return data, nil
}

func (m *mockStorage) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.files, path)
	m.deleted = append(m.deleted, path)
	return nil
}

func (m *mockStorage) fileCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}

// mockOracle answers per file name. Unknown names fail. It also tracks
// how many calls run at once.
type mockOracle struct {
	mu      sync.Mutex
	results map[string]*OracleResult
	errs    map[string]error
	delay   time.Duration
	block   bool

	active    int
	maxActive int
	calls     []string
}

func newMockOracle() *mockOracle {
	return &mockOracle{
		results: make(map[string]*OracleResult),
		errs:    make(map[string]error),
	}
}

func (m *mockOracle) set(filename string, res *OracleResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[filename] = res
}

func (m *mockOracle) Extract(ctx context.Context, invoice Invoice) (*OracleResult, error) {
	m.mu.Lock()
	m.active++
	if m.active > m.maxActive {
		m.maxActive = m.active
	}
	m.calls = append(m.calls, invoice.Filename)
	res, hasResult := m.results[invoice.Filename]
	err := m.errs[invoice.Filename]
	delay, block := m.delay, m.block
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.active--
		m.mu.Unlock()
	}()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil {
		return nil, err
	}
	if !hasResult {
		return nil, fmt.Errorf("no scripted result for %s", invoice.Filename)
	}
	out := *res
	return &out, nil
}

func (m *mockOracle) peakConcurrency() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxActive
}

func (m *mockOracle) callOrder() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// mockScanner is a mock implementation of scanning.Scanner
type mockScanner struct {
	scanErr     error
	invoiceData *scanning.InvoiceData

	lastHint        *scanning.Hint
	lastContentType string
}

func newMockScanner() *mockScanner {
	return &mockScanner{
		invoiceData: &scanning.InvoiceData{
			IBAN:        "GB29 NWBK 6016 1331 9268 19",
			AccountName: "Acme Supplies Ltd",
			Confidence:  0.95,
			Layout: &scanning.Layout{
				LayoutType:     "standard",
				IBANSection:    scanning.Section{Location: "footer", Label: "IBAN"},
				AccountSection: scanning.Section{Location: "footer", Label: "Account name"},
			},
		},
	}
}

func (m *mockScanner) ScanInvoice(ctx context.Context, data []byte, contentType string, hint *scanning.Hint) (*scanning.InvoiceData, error) {
	m.lastHint = hint
	m.lastContentType = contentType
	if m.scanErr != nil {
		return nil, m.scanErr
	}
	return m.invoiceData, nil
}

func (m *mockScanner) Close() error {
	return nil
}

// sequenceIDGenerator hands out prefix-1, prefix-2, ...
type sequenceIDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

func (g *sequenceIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// mockTimeSource returns now, advancing by step on every call
type mockTimeSource struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (m *mockTimeSource) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.now
	m.now = m.now.Add(m.step)
	return t
}

func (m *mockTimeSource) set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// standardLayout is what the mock oracle reports for a vendor's usual invoice
func standardLayout() *scanning.Layout {
	return &scanning.Layout{
		LayoutType:     "standard",
		IBANSection:    scanning.Section{Location: "footer", Label: "IBAN"},
		AccountSection: scanning.Section{Location: "footer", Label: "Account holder"},
	}
}

// signingStorage is a mockStorage that can also sign download links
type signingStorage struct {
	*mockStorage
}

func (s *signingStorage) PresignedURL(ctx context.Context, path string, expiry time.Duration) (string, error) {
	return fmt.Sprintf("https://files.example.com/%s?expires=%d", path, int(expiry.Seconds())), nil
}
