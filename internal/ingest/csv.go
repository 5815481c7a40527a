package ingest

import (
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"journal/internal/domain"
)

//go:embed templates.yaml
var templatesYAML []byte

var (
	// ErrUnknownTemplate is returned for template names not in templates.yaml.
	ErrUnknownTemplate = errors.New("unknown csv template")
	// ErrMissingColumns is returned when a required column has no matching header.
	ErrMissingColumns = errors.New("missing required columns")
	// ErrEmptyFile is returned when the input has no header row.
	ErrEmptyFile = errors.New("csv file is empty")
)

const (
	colSymbol     = "symbol"
	colSide       = "side"
	colQuantity   = "quantity"
	colPrice      = "price"
	colExecutedAt = "executed_at"
	colAccount    = "account_id"
	colNotes      = "notes"
)

var requiredColumns = []string{colSymbol, colSide, colQuantity, colPrice, colExecutedAt}

// zoneSuffixes are broker zone abbreviations dropped before parsing. The
// remaining wall time is read in the reporting zone.
var zoneSuffixes = []string{" EST", " EDT", " PST", " PDT", " CST", " CDT", " MST", " MDT"}

var naiveLayouts = []string{
	"01/02/2006 15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"01/02/2006 15:04",
	"2006-01-02 15:04",
}

var zonedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05-07:00",
}

type catalogFile struct {
	Templates map[string]map[string][]string `yaml:"templates"`
	Sides     map[domain.Side][]string       `yaml:"sides"`
}

type catalog struct {
	templates map[string]map[string][]string
	sides     map[string]domain.Side
}

var templates = mustLoadCatalog(templatesYAML)

func mustLoadCatalog(data []byte) catalog {
	c, err := loadCatalog(data)
	if err != nil {
		panic(err)
	}
	return c
}

func loadCatalog(data []byte) (catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return catalog{}, fmt.Errorf("decode csv templates: %w", err)
	}
	c := catalog{templates: f.Templates, sides: make(map[string]domain.Side)}
	for side, aliases := range f.Sides {
		if !side.Valid() {
			return catalog{}, fmt.Errorf("decode csv templates: invalid side %q", side)
		}
		for _, alias := range aliases {
			c.sides[strings.ToLower(alias)] = side
		}
	}
	return c, nil
}

// Templates lists the supported template names.
func Templates() []string {
	names := make([]string, 0, len(templates.templates))
	for name := range templates.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TemplateInfo documents one CSV template: the header aliases accepted for
// each column and which columns must be present.
type TemplateInfo struct {
	ID       string              `json:"id"`
	Required []string            `json:"required_columns"`
	Columns  map[string][]string `json:"columns"`
}

// DescribeTemplates returns every template sorted by id.
func DescribeTemplates() []TemplateInfo {
	out := make([]TemplateInfo, 0, len(templates.templates))
	for _, name := range Templates() {
		out = append(out, TemplateInfo{
			ID:       name,
			Required: requiredColumns,
			Columns:  templates.templates[name],
		})
	}
	return out
}

// RowError describes a CSV row that could not be normalized. Row is the
// 1-based line number in the file, the header being line 1.
type RowError struct {
	Row int
	Err error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// ParseResult holds the normalized trades and the rejected rows of one file.
type ParseResult struct {
	Trades []domain.Trade
	Errors []*RowError
	Rows   int
}

// Parser normalizes broker CSV exports into trades.
type Parser struct {
	template string
	headers  map[string][]string
	loc      *time.Location
	account  string
	jobID    string
	logger   zerolog.Logger
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithAccount sets the account for rows that do not name one.
func WithAccount(id string) ParserOption {
	return func(p *Parser) { p.account = id }
}

// WithJobID stamps every trade with the ingest job id.
func WithJobID(id string) ParserOption {
	return func(p *Parser) { p.jobID = id }
}

// WithParserLogger sets the logger for per-row warnings.
func WithParserLogger(l zerolog.Logger) ParserOption {
	return func(p *Parser) { p.logger = l }
}

// NewParser returns a parser for template. Naive timestamps are read in loc.
func NewParser(template string, loc *time.Location, opts ...ParserOption) (*Parser, error) {
	headers, ok := templates.templates[template]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, template)
	}
	p := &Parser{
		template: template,
		headers:  headers,
		loc:      loc,
		account:  domain.DefaultAccount,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Parse reads the whole file. Malformed rows are collected in the result and
// do not stop the parse; a missing header or required column does.
func (p *Parser) Parse(r io.Reader) (*ParseResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	columns, err := p.resolveColumns(header)
	if err != nil {
		return nil, err
	}

	result := &ParseResult{Trades: []domain.Trade{}}
	ingestedAt := time.Now()
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				result.Rows++
				result.Errors = append(result.Errors, &RowError{Row: perr.StartLine, Err: perr.Err})
				continue
			}
			return nil, fmt.Errorf("read csv: %w", err)
		}
		if blank(record) {
			continue
		}
		result.Rows++
		row, _ := reader.FieldPos(0)

		trade, err := p.parseRow(record, columns)
		if err != nil {
			p.logger.Debug().Err(err).Int("row", row).Str("template", p.template).Msg("rejected csv row")
			result.Errors = append(result.Errors, &RowError{Row: row, Err: err})
			continue
		}
		trade.IngestedAt = ingestedAt
		result.Trades = append(result.Trades, trade)
	}
	return result, nil
}

func (p *Parser) resolveColumns(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if _, dup := index[h]; !dup {
			index[h] = i
		}
	}

	columns := make(map[string]int)
	for field, aliases := range p.headers {
		for _, alias := range aliases {
			if i, ok := index[alias]; ok {
				columns[field] = i
				break
			}
		}
	}

	var missing []string
	for _, field := range requiredColumns {
		if _, ok := columns[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}
	return columns, nil
}

func (p *Parser) parseRow(record []string, columns map[string]int) (domain.Trade, error) {
	field := func(name string) string {
		i, ok := columns[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	symbol := strings.ToUpper(field(colSymbol))
	if symbol == "" {
		return domain.Trade{}, fmt.Errorf("symbol is required")
	}

	side, err := parseSide(field(colSide))
	if err != nil {
		return domain.Trade{}, err
	}

	qty, err := parseAmount(field(colQuantity), ",")
	if err != nil {
		return domain.Trade{}, fmt.Errorf("invalid quantity: %w", err)
	}
	if err := checkQuantity(qty); err != nil {
		return domain.Trade{}, err
	}

	price, err := parseAmount(field(colPrice), "$", "@", ",")
	if err != nil {
		return domain.Trade{}, fmt.Errorf("invalid price: %w", err)
	}
	if err := checkPrice(price); err != nil {
		return domain.Trade{}, err
	}

	executedAt, err := p.parseTimestamp(field(colExecutedAt))
	if err != nil {
		return domain.Trade{}, err
	}

	account := field(colAccount)
	if account == "" {
		account = p.account
	}

	return domain.Trade{
		ID:          uuid.NewString(),
		AccountID:   account,
		Symbol:      symbol,
		Side:        side,
		Quantity:    qty,
		Price:       price,
		ExecutedAt:  executedAt,
		Notes:       field(colNotes),
		IngestJobID: p.jobID,
	}, nil
}

func parseSide(raw string) (domain.Side, error) {
	if side, ok := templates.sides[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return side, nil
	}
	return "", fmt.Errorf("invalid side value %q", raw)
}

func parseAmount(raw string, strip ...string) (decimal.Decimal, error) {
	for _, s := range strip {
		raw = strings.ReplaceAll(raw, s, "")
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Decimal{}, fmt.Errorf("value is required")
	}
	return decimal.NewFromString(raw)
}

func (p *Parser) parseTimestamp(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("timestamp is required")
	}
	s := raw
	for _, suffix := range zoneSuffixes {
		if strings.HasSuffix(s, suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, suffix))
			break
		}
	}

	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, p.loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("could not parse timestamp %q, expected YYYY-MM-DD HH:MM:SS or ISO 8601", raw)
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
