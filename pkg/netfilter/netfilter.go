package netfilter

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/coreos/go-iptables/iptables"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// Family selects the address family a rule applies to
type Family string

const (
	IPv4 Family = "ipv4"
	IPv6 Family = "ipv6"
)

// Tables is the slice of the iptables API the engine needs. *iptables.IPTables
// satisfies it.
type Tables interface {
	Exists(table, chain string, rulespec ...string) (bool, error)
	Insert(table, chain string, pos int, rulespec ...string) error
	AppendUnique(table, chain string, rulespec ...string) error
	DeleteIfExists(table, chain string, rulespec ...string) error
	ChainExists(table, chain string) (bool, error)
	NewChain(table, chain string) error
	ClearAndDeleteChain(table, chain string) error
}

// Rule is one firewall rule. Parent is the built-in chain whose traffic the
// rule inspects; the engine installs it in a dedicated chain hanging off Parent.
type Rule struct {
	Family Family
	Table  string
	Parent string
	Spec   []string
}

// RuleSet is a named, ordered group of rules applied and removed as a unit
type RuleSet struct {
	Name  string
	Rules []Rule
}

// Handle identifies an applied rule set
type Handle = types.RuleHandle

// Engine installs rule sets into the host tables
type Engine struct {
	tables  map[Family]Tables
	mu      sync.Mutex
	applied map[string]struct{}
	logger  zerolog.Logger
}

// NewEngine creates an engine over the given tables. v6 may be nil when IPv6
// is not in use.
func NewEngine(v4, v6 Tables) *Engine {
	tables := map[Family]Tables{IPv4: v4}
	if v6 != nil {
		tables[IPv6] = v6
	}
	return &Engine{
		tables:  tables,
		applied: make(map[string]struct{}),
		logger:  log.WithComponent("netfilter"),
	}
}

// NewSystemEngine creates an engine backed by the iptables binaries
func NewSystemEngine(ipv6 bool) (*Engine, error) {
	v4, err := iptables.NewWithProtocol(iptables.ProtocolIPv4)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise iptables: %w", err)
	}
	var v6 Tables
	if ipv6 {
		ip6, err := iptables.NewWithProtocol(iptables.ProtocolIPv6)
		if err != nil {
			return nil, fmt.Errorf("failed to initialise ip6tables: %w", err)
		}
		v6 = ip6
	}
	return NewEngine(v4, v6), nil
}

var parentSuffix = map[string]string{
	"PREROUTING":  "PRE",
	"POSTROUTING": "POST",
	"FORWARD":     "FWD",
	"INPUT":       "IN",
	"OUTPUT":      "OUT",
}

// ChainName returns the dedicated chain used for a rule set under parent
func ChainName(set, parent string) string {
	h := fnv.New32a()
	h.Write([]byte(set))
	suffix, ok := parentSuffix[parent]
	if !ok {
		suffix = parent
		if len(suffix) > 4 {
			suffix = suffix[:4]
		}
	}
	return fmt.Sprintf("BURROW-%08x-%s", h.Sum32(), suffix)
}

type groupKey struct {
	family Family
	table  string
	parent string
}

// Apply installs the rule set. Re-applying an installed set adds nothing.
// On failure everything the set owns is removed again and the error wraps
// types.ErrRuleApply.
func (e *Engine) Apply(ctx context.Context, set RuleSet) (Handle, error) {
	handle := Handle{Name: set.Name}

	var order []groupKey
	groups := make(map[groupKey][]Rule)
	for _, r := range set.Rules {
		if r.Family == "" {
			r.Family = IPv4
		}
		k := groupKey{family: r.Family, table: r.Table, parent: r.Parent}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], r)
	}

	for _, k := range order {
		if err := ctx.Err(); err != nil {
			return e.abort(ctx, handle, fmt.Errorf("apply %s: %w", set.Name, err))
		}

		t, ok := e.tables[k.family]
		if !ok {
			return e.abort(ctx, handle, fmt.Errorf("apply %s: no %s tables configured: %w", set.Name, k.family, types.ErrRuleApply))
		}

		ref := types.ChainRef{
			Family: string(k.family),
			Table:  k.table,
			Parent: k.parent,
			Chain:  ChainName(set.Name, k.parent),
		}
		ref.Jump = []string{"-j", ref.Chain}
		handle.Chains = append(handle.Chains, ref)

		if err := e.applyGroup(t, ref, groups[k]); err != nil {
			return e.abort(ctx, handle, fmt.Errorf("apply %s to %s/%s: %v: %w", set.Name, k.table, ref.Chain, err, types.ErrRuleApply))
		}
	}

	e.mu.Lock()
	e.applied[set.Name] = struct{}{}
	metrics.RuleSetsApplied.Set(float64(len(e.applied)))
	e.mu.Unlock()

	e.logger.Debug().
		Str("rule_set", set.Name).
		Int("chains", len(handle.Chains)).
		Int("rules", len(set.Rules)).
		Msg("Rule set applied")
	return handle, nil
}

func (e *Engine) applyGroup(t Tables, ref types.ChainRef, rules []Rule) error {
	exists, err := t.ChainExists(ref.Table, ref.Chain)
	if err != nil {
		return err
	}
	if !exists {
		if err := t.NewChain(ref.Table, ref.Chain); err != nil {
			return err
		}
	}

	for _, r := range rules {
		if err := t.AppendUnique(ref.Table, ref.Chain, r.Spec...); err != nil {
			return err
		}
	}

	jumped, err := t.Exists(ref.Table, ref.Parent, ref.Jump...)
	if err != nil {
		return err
	}
	if !jumped {
		if err := t.Insert(ref.Table, ref.Parent, 1, ref.Jump...); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) abort(ctx context.Context, handle Handle, cause error) (Handle, error) {
	if err := e.Remove(context.WithoutCancel(ctx), handle); err != nil {
		e.logger.Warn().Err(err).Str("rule_set", handle.Name).Msg("Failed to remove partially applied rule set")
	}
	return Handle{}, cause
}

// Remove deletes the jump rules and chains referenced by handle. Removing a
// set that is not installed is a no-op. Every chain is attempted; failures
// are joined.
func (e *Engine) Remove(ctx context.Context, handle Handle) error {
	var errs []error

	for i := len(handle.Chains) - 1; i >= 0; i-- {
		ref := handle.Chains[i]
		t, ok := e.tables[Family(ref.Family)]
		if !ok {
			continue
		}

		if err := t.DeleteIfExists(ref.Table, ref.Parent, ref.Jump...); err != nil {
			errs = append(errs, fmt.Errorf("delete jump %s/%s -> %s: %w", ref.Table, ref.Parent, ref.Chain, err))
		}

		exists, err := t.ChainExists(ref.Table, ref.Chain)
		if err != nil {
			errs = append(errs, fmt.Errorf("check chain %s/%s: %w", ref.Table, ref.Chain, err))
			continue
		}
		if exists {
			if err := t.ClearAndDeleteChain(ref.Table, ref.Chain); err != nil {
				errs = append(errs, fmt.Errorf("delete chain %s/%s: %w", ref.Table, ref.Chain, err))
			}
		}
	}

	e.mu.Lock()
	delete(e.applied, handle.Name)
	metrics.RuleSetsApplied.Set(float64(len(e.applied)))
	e.mu.Unlock()

	if err := errors.Join(errs...); err != nil {
		return err
	}
	if !handle.Empty() {
		e.logger.Debug().Str("rule_set", handle.Name).Msg("Rule set removed")
	}
	return nil
}
