// Package policy validates a (sender, transaction body, requested budget)
// tuple against a sponsor-configured Policy before the pool ever reserves a
// coin for it. The gas-coin drain check it runs is always on, independent
// of any configured Policy, guarding against a sender extracting value
// from the sponsor's fee coin beyond the gas fee itself.
package policy

import (
	"crypto/sha256"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/exp/slices"

	"github.com/chainsponsor/gasstation/txcodec"
)

const addressWidth = 64 // hex digits, zero-padded; chain-specific but fixed

const parsedBodyCacheSize = 256

// CustomValidator is a caller-supplied last-chance check. Returning false
// rejects the request.
type CustomValidator func(sender string, commands []txcodec.Command, requestedBudget uint64) bool

// Policy is an immutable set of sponsor-side constraints. The zero value
// imposes no constraint beyond the always-on drain check.
type Policy struct {
	MaxBudgetPerTx    uint64 // 0 means unset
	AllowedTargets    []string
	BlockedSenders    []string
	AllowGasCoinUsage bool
	CustomValidator   CustomValidator
}

// Violation is the reason Validate rejected a request.
type Violation struct {
	Reason string
}

func (v *Violation) Error() string { return v.Reason }

func violation(format string, args ...any) error {
	return &Violation{Reason: fmt.Sprintf(format, args...)}
}

// Engine evaluates Policy values against parsed transaction bodies, caching
// the parsed command list of each distinct body by its digest so repeated
// Validate calls for the same body decode it only once. The cache serves
// Validate only: Sponsor's build step parses the body again through the
// codec itself.
type Engine struct {
	codec      txcodec.Codec
	parsedBody *lru.Cache
}

// New constructs an Engine backed by codec for command-list parsing.
func New(codec txcodec.Codec) *Engine {
	cache, err := lru.New(parsedBodyCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// parsedBodyCacheSize never is.
		panic(err)
	}
	return &Engine{codec: codec, parsedBody: cache}
}

// Validate runs the configured Policy's checks, cheapest first: budget
// cap, sender blocklist, target allowlist, then the custom validator. It
// does not run the gas-coin drain check -- that is always-on regardless of
// Policy and is run separately, over the codec-reconstructed transaction,
// via CheckGasCoinDrain.
func (e *Engine) Validate(policy Policy, sender string, bodyBytes []byte, requestedBudget uint64) error {
	if policy.MaxBudgetPerTx != 0 && requestedBudget > policy.MaxBudgetPerTx {
		return violation("requested budget %d exceeds policy cap %d", requestedBudget, policy.MaxBudgetPerTx)
	}

	if len(policy.BlockedSenders) > 0 {
		normalizedSender := normalizeAddress(sender)
		blocked := normalizeAddresses(policy.BlockedSenders)
		if slices.Contains(blocked, normalizedSender) {
			return violation("sender %s is blocked by policy", sender)
		}
	}

	commands, err := e.parseCommands(bodyBytes)
	if err != nil {
		return fmt.Errorf("gasstation/policy: %w", err)
	}

	if len(policy.AllowedTargets) > 0 {
		if err := validateAllowedTargets(commands, policy.AllowedTargets); err != nil {
			return err
		}
	}

	if policy.CustomValidator != nil && !policy.CustomValidator(sender, commands, requestedBudget) {
		return violation("rejected by custom validator")
	}

	return nil
}

func (e *Engine) parseCommands(bodyBytes []byte) ([]txcodec.Command, error) {
	digest := sha256.Sum256(bodyBytes)
	key := string(digest[:])

	if cached, ok := e.parsedBody.Get(key); ok {
		return cached.([]txcodec.Command), nil
	}

	tx, err := e.codec.ParseKind(bodyBytes)
	if err != nil {
		return nil, fmt.Errorf("parse transaction body: %w", err)
	}
	commands := tx.Commands()
	e.parsedBody.Add(key, commands)
	return commands, nil
}

func validateAllowedTargets(commands []txcodec.Command, allowedTargets []string) error {
	allowed := normalizeTargets(allowedTargets)
	for _, cmd := range commands {
		switch cmd.Kind {
		case txcodec.KindPublish, txcodec.KindUpgrade:
			return violation("%s commands are not permitted under a target allowlist", cmd.Kind)
		case txcodec.KindMoveCall:
			target := normalizeTarget(cmd.Target)
			if !slices.Contains(allowed, target) {
				return violation("target %s is not in the allowed targets list", target)
			}
		}
	}
	return nil
}

// CheckGasCoinDrain rejects any command whose argument list references the
// gas coin. Validate does not call it; it is exported so
// Sponsor.SponsorTransaction can run it against the codec-reconstructed
// command list, unconditionally unless AllowGasCoinUsage is set.
func CheckGasCoinDrain(commands []txcodec.Command) error {
	for _, cmd := range commands {
		for _, arg := range cmd.Arguments() {
			if arg.Kind == txcodec.ArgGasCoin {
				return violation("command %s references the GasCoin argument directly: not permitted", cmd.Kind)
			}
		}
	}
	return nil
}

func normalizeAddress(addr string) string {
	addr = strings.ToLower(strings.TrimPrefix(addr, "0x"))
	if len(addr) < addressWidth {
		addr = strings.Repeat("0", addressWidth-len(addr)) + addr
	}
	return "0x" + addr
}

func normalizeAddresses(addrs []string) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = normalizeAddress(a)
	}
	slices.Sort(out)
	return out
}

func normalizeTarget(t *txcodec.MoveCallTarget) string {
	if t == nil {
		return ""
	}
	return fmt.Sprintf("%s::%s::%s", normalizeAddress(t.Package), t.Module, t.Function)
}

func normalizeTargets(targets []string) []string {
	out := make([]string, len(targets))
	copy(out, targets)
	for i, t := range out {
		pkg, rest, ok := strings.Cut(t, "::")
		if !ok {
			continue
		}
		out[i] = normalizeAddress(pkg) + "::" + rest
	}
	slices.Sort(out)
	return out
}
