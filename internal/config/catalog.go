package config

import (
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"github.com/shopspring/decimal"

	"github.com/roach88/fandomvelocity/internal/ledger"
)

// catalogSchema constrains promo catalog files. #Promo is closed, so
// misspelled fields are rejected at unification.
const catalogSchema = `
#Promo: {
	value:      number & >0
	maxUses:    *0 | (int & >=0)
	active:     *true | bool
	expiresAt?: string
}

promos: [string]: #Promo
`

// CatalogError reports a catalog problem with its CUE position when known.
type CatalogError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *CatalogError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type catalogEntry struct {
	MaxUses   int64   `json:"maxUses"`
	Active    bool    `json:"active"`
	ExpiresAt *string `json:"expiresAt"`
}

// LoadPromoCatalog compiles the CUE catalog at path against the promo
// schema and returns its entries in source order. Codes are normalized.
//
// Example catalog:
//
//	promos: {
//		WELCOME10: {value: 10.00, maxUses: 100}
//		LAUNCH: {value: 5, expiresAt: "2025-12-31T23:59:59Z"}
//	}
func LoadPromoCatalog(path string) ([]ledger.PromoCode, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read promo catalog %s: %w", path, err)
	}
	return ParsePromoCatalog(src, path)
}

// ParsePromoCatalog is LoadPromoCatalog over in-memory source. filename
// is used for error positions only.
func ParsePromoCatalog(src []byte, filename string) ([]ledger.PromoCode, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(catalogSchema, cue.Filename("catalog-schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile catalog schema: %w", err)
	}

	data := ctx.CompileBytes(src, cue.Filename(filename))
	if err := data.Err(); err != nil {
		return nil, catalogError("CATALOG_SYNTAX", err)
	}

	v := schema.Unify(data)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, catalogError("CATALOG_INVALID", err)
	}

	promosVal := v.LookupPath(cue.ParsePath("promos"))
	if !promosVal.Exists() {
		return nil, nil
	}

	iter, err := promosVal.Fields()
	if err != nil {
		return nil, catalogError("CATALOG_INVALID", err)
	}

	var out []ledger.PromoCode
	seen := make(map[string]string)
	for iter.Next() {
		label := iter.Label()
		p, err := decodePromo(label, iter.Value())
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[p.Code]; dup {
			return nil, &CatalogError{
				Code:    "CATALOG_DUPLICATE",
				Message: fmt.Sprintf("%q and %q normalize to the same code %s", prev, label, p.Code),
				Pos:     iter.Value().Pos(),
			}
		}
		seen[p.Code] = label
		out = append(out, p)
	}
	return out, nil
}

func decodePromo(label string, v cue.Value) (ledger.PromoCode, error) {
	var entry catalogEntry
	if err := v.Decode(&entry); err != nil {
		return ledger.PromoCode{}, catalogError("CATALOG_INVALID", err)
	}

	// Numbers go through their JSON literal so 10.10 stays exact.
	rawValue, err := v.LookupPath(cue.ParsePath("value")).MarshalJSON()
	if err != nil {
		return ledger.PromoCode{}, catalogError("CATALOG_INVALID", err)
	}
	value, err := decimal.NewFromString(string(rawValue))
	if err != nil {
		return ledger.PromoCode{}, &CatalogError{Code: "CATALOG_INVALID", Message: fmt.Sprintf("promo %s: value: %v", label, err), Pos: v.Pos()}
	}
	if _, err := ledger.ToCents(value); err != nil {
		return ledger.PromoCode{}, &CatalogError{Code: "CATALOG_INVALID", Message: fmt.Sprintf("promo %s: value: %v", label, err), Pos: v.Pos()}
	}

	p := ledger.PromoCode{
		Code:     ledger.NormalizeCode(label),
		Value:    value,
		MaxUses:  entry.MaxUses,
		IsActive: entry.Active,
	}
	if p.Code == "" {
		return ledger.PromoCode{}, &CatalogError{Code: "CATALOG_INVALID", Message: "empty promo code", Pos: v.Pos()}
	}
	if entry.ExpiresAt != nil {
		t, err := time.Parse(time.RFC3339, *entry.ExpiresAt)
		if err != nil {
			return ledger.PromoCode{}, &CatalogError{
				Code:    "CATALOG_INVALID",
				Message: fmt.Sprintf("promo %s: expiresAt must be RFC3339: %v", label, err),
				Pos:     v.LookupPath(cue.ParsePath("expiresAt")).Pos(),
			}
		}
		t = t.UTC()
		p.ExpiresAt = &t
	}
	return p, nil
}

func catalogError(code string, err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &CatalogError{Code: code, Message: err.Error()}
	}
	first := errs[0]
	ce := &CatalogError{Code: code, Message: first.Error()}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		ce.Pos = positions[0]
	}
	return ce
}
