package cli

import (
	"fmt"
	"os"

	"ContraLedger/internal/allocation"
	fpmath "ContraLedger/internal/math"
	"ContraLedger/internal/modules"
	"ContraLedger/internal/session"

	"gopkg.in/yaml.v3"
)

// Worksheet is a settlement saved as YAML: the module's own document shape
// under documents, plus the settlement header.
type Worksheet struct {
	Module    modules.Kind          `yaml:"module"`
	Policy    *fpmath.DecimalPolicy `yaml:"policy,omitempty"`
	Header    allocation.Header     `yaml:"header"`
	Documents yaml.Node             `yaml:"documents"`
}

// LoadWorksheet reads and parses a worksheet file.
func LoadWorksheet(path string) (*Worksheet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read worksheet: %w", err)
	}
	return ParseWorksheet(data)
}

func ParseWorksheet(data []byte) (*Worksheet, error) {
	var ws Worksheet
	if err := yaml.Unmarshal(data, &ws); err != nil {
		return nil, fmt.Errorf("parse worksheet: %w", err)
	}
	kind, err := modules.ParseKind(string(ws.Module))
	if err != nil {
		return nil, err
	}
	ws.Module = kind
	return &ws, nil
}

// Lines decodes the module documents into outstanding lines.
func (ws *Worksheet) Lines() ([]allocation.OutstandingLine, error) {
	if ws.Documents.Kind == 0 {
		return nil, nil
	}
	return modules.Decode(ws.Module, ws.Documents.Decode)
}

// Session opens the worksheet as a session. Allocations already on the
// documents are kept; derived local amounts and totals are recomputed.
func (ws *Worksheet) Session() (session.Session, error) {
	lines, err := ws.Lines()
	if err != nil {
		return session.Session{}, err
	}

	policy := modules.DefaultPolicy(ws.Module)
	if ws.Policy != nil {
		policy = *ws.Policy
	}

	s, err := session.Restore(session.Snapshot{
		Kind:   ws.Module,
		Policy: policy,
		Header: ws.Header,
		Lines:  lines,
	})
	if err != nil {
		return session.Session{}, err
	}
	return s.ChangeRates(ws.Header.SettlementExchangeRate, ws.Header.SettlementCityExchangeRate)
}

// WriteBack returns the worksheet documents with the session's allocations
// copied onto them, in the module's own shape.
func (ws *Worksheet) WriteBack(lines []allocation.OutstandingLine) (interface{}, error) {
	if ws.Documents.Kind == 0 {
		return []interface{}{}, nil
	}
	switch ws.Module {
	case modules.KindARSetOff:
		var docs modules.ARSetOffDocuments
		if err := ws.Documents.Decode(&docs); err != nil {
			return nil, err
		}
		return docs.WriteBack(lines), nil
	case modules.KindCBPayment:
		var docs modules.CBPaymentDocuments
		if err := ws.Documents.Decode(&docs); err != nil {
			return nil, err
		}
		return docs.WriteBack(lines), nil
	case modules.KindGLContra:
		var docs modules.GLContraDocuments
		if err := ws.Documents.Decode(&docs); err != nil {
			return nil, err
		}
		return docs.WriteBack(lines), nil
	default:
		return nil, fmt.Errorf("%w: %q", modules.ErrUnknownKind, ws.Module)
	}
}
