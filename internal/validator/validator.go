// Package validator implements the Label Validator (spec.md §4.D): shape,
// source binding, signature, declared-value, and expiry checks, in that
// order, returning a structured result rather than raising (spec.md §7:
// "validator returns structured {valid, reason} rather than raising").
package validator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arc-self/muncher/internal/identity"
	"github.com/arc-self/muncher/internal/idcrypto"
	"github.com/arc-self/muncher/internal/servicerecord"
	"github.com/arc-self/muncher/internal/statestore"
	"github.com/arc-self/muncher/internal/wire"
)

// GlobalLabelValues is the fixed set of label values always implicitly
// valid regardless of a publisher's declared values (spec.md §3).
var GlobalLabelValues = map[string]struct{}{
	"porn":          {},
	"sexual":        {},
	"nudity":        {},
	"graphic-media": {},
	"gore":          {},
}

// Result is the outcome of validating one label.
type Result struct {
	Valid  bool
	Reason string
}

func invalid(reason string) Result { return Result{Valid: false, Reason: reason} }

var valid = Result{Valid: true}

// Validator is a plain value type parameterized by its collaborators,
// matching the teacher's "narrow public contract, no inheritance" style
// for components like internal/worker.ScanPoller.
type Validator struct {
	store    *statestore.Store
	resolver *identity.Resolver
	records  *servicerecord.Fetcher
	logger   *zap.Logger
	now      func() time.Time
}

// New builds a Validator bound to its collaborators.
func New(store *statestore.Store, resolver *identity.Resolver, records *servicerecord.Fetcher, logger *zap.Logger) *Validator {
	return &Validator{store: store, resolver: resolver, records: records, logger: logger, now: time.Now}
}

// Validate runs the full check sequence from spec.md §4.D, stopping at the
// first failure.
func (v *Validator) Validate(ctx context.Context, label wire.Label, expectedDID string) Result {
	if r := checkShape(label); !r.Valid {
		return r
	}

	if label.Src != expectedDID {
		return invalid("source DID does not match")
	}

	if r := v.checkSignature(ctx, label); !r.Valid {
		return r
	}

	if r := v.checkDeclaredValue(ctx, label); !r.Valid {
		return r
	}

	if r := checkExpiry(label, v.now()); !r.Valid {
		return r
	}

	return valid
}

func checkShape(label wire.Label) Result {
	switch {
	case label.Src == "":
		return invalid("missing required field src")
	case label.URI == "":
		return invalid("missing required field uri")
	case label.Val == "":
		return invalid("missing required field val")
	case label.CTS == "":
		return invalid("missing required field cts")
	case len(label.Sig) == 0:
		return invalid("missing required field sig")
	}
	return valid
}

func checkExpiry(label wire.Label, now time.Time) Result {
	if label.Exp == nil || *label.Exp == "" {
		return valid
	}
	exp, err := time.Parse(time.RFC3339, *label.Exp)
	if err != nil {
		return invalid("malformed expiry timestamp")
	}
	if !exp.After(now) {
		return invalid("expired")
	}
	return valid
}

// checkSignature implements spec.md §4.D.i, including the single
// key-refresh retry on verification failure.
func (v *Validator) checkSignature(ctx context.Context, label wire.Label) Result {
	payload, err := wire.SigningPayload(label)
	if err != nil {
		v.logger.Error("failed to build signing payload", zap.String("src", label.Src), zap.Error(err))
		return invalid("signature verification failed")
	}

	key, err := v.signingKey(ctx, label.Src, false)
	if err != nil {
		v.logger.Warn("signing key unavailable", zap.String("src", label.Src), zap.Error(err))
		return invalid("signing key unavailable")
	}

	if ok, err := idcrypto.VerifySignature(key, payload, label.Sig); err == nil && ok {
		return valid
	}

	// Refresh once: resolve again with noCache=true and retry only if the
	// refreshed key actually differs (spec.md §4.D.i).
	refreshedKey, err := v.signingKey(ctx, label.Src, true)
	if err != nil {
		v.logger.Warn("signing key refresh failed", zap.String("src", label.Src), zap.Error(err))
		return invalid("signature verification failed")
	}
	if idcrypto.KeysEqual(key, refreshedKey) {
		return invalid("signature verification failed")
	}

	if ok, err := idcrypto.VerifySignature(refreshedKey, payload, label.Sig); err == nil && ok {
		return valid
	}

	return invalid("signature verification failed")
}

// signingKey resolves the signing key for did, reading the IdentityCache
// first unless noCache is set, and populating it on a resolver hit.
func (v *Validator) signingKey(ctx context.Context, did string, noCache bool) (string, error) {
	if !noCache {
		entry, hit, err := v.store.GetIdentity(ctx, did)
		if err != nil {
			v.logger.Warn("identity cache read failed", zap.String("did", did), zap.Error(err))
		} else if hit {
			return entry.SigningKey, nil
		}
	}

	doc, err := v.resolver.Resolve(ctx, did, noCache)
	if err != nil {
		return "", fmt.Errorf("resolve identity: %w", err)
	}

	key, err := identity.SigningKey(doc)
	if err != nil {
		return "", err
	}

	// Best-effort: a missing #atproto_labeler service shouldn't prevent
	// caching a usable signing key.
	endpoint, _ := identity.LabelerServiceEndpoint(doc)
	if err := v.store.SetIdentity(ctx, did, key, endpoint); err != nil {
		v.logger.Error("failed to cache identity", zap.String("did", did), zap.Error(err))
	}

	return key, nil
}

// checkDeclaredValue implements spec.md §4.D.ii.
func (v *Validator) checkDeclaredValue(ctx context.Context, label wire.Label) Result {
	if _, ok := GlobalLabelValues[label.Val]; ok {
		return valid
	}

	declared := v.declaredValues(ctx, label.Src)
	for _, dv := range declared {
		if dv == label.Val {
			return valid
		}
	}
	return invalid("value not in labeler's declared values")
}

func (v *Validator) declaredValues(ctx context.Context, did string) []string {
	entry, hit, err := v.store.GetService(ctx, did)
	if err != nil {
		v.logger.Warn("service cache read failed", zap.String("did", did), zap.Error(err))
	} else if hit {
		return entry.DeclaredValues
	}

	values, ok := v.records.Fetch(ctx, did)
	if !ok {
		return nil
	}
	return values
}
