// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

// Package authz answers "who may do what" for the realtime layer using Casbin
// RBAC. The fan-out layer asks it for the principals holding an entitlement on
// an object; it never makes admin exceptions of its own, so an administrator
// receives an authorized broadcast only because the policy grants it.
package authz

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"

	"github.com/tomtom215/gametable/internal/logging"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

// AnyObject is the request object used when an entitlement is not scoped to a target.
const AnyObject = "*"

// EnforcerConfig holds configuration for the Casbin enforcer.
type EnforcerConfig struct {
	// ModelPath is the path to the Casbin model file. Empty uses the embedded model.
	ModelPath string

	// PolicyPath is the path to the Casbin policy file. Empty uses the embedded policy.
	PolicyPath string

	// AutoReload re-reads PolicyPath every ReloadInterval.
	AutoReload     bool
	ReloadInterval time.Duration

	// DefaultRole is assigned by AssignRole when a token carries no role.
	DefaultRole string

	// CacheEnabled enables enforcement decision caching for CacheTTL.
	CacheEnabled bool
	CacheTTL     time.Duration
}

// DefaultEnforcerConfig returns default configuration.
func DefaultEnforcerConfig() *EnforcerConfig {
	return &EnforcerConfig{
		AutoReload:     true,
		ReloadInterval: 30 * time.Second,
		DefaultRole:    "player",
		CacheEnabled:   true,
		CacheTTL:       time.Minute,
	}
}

// Enforcer wraps the Casbin enforcer with a decision cache and metrics.
//
// Role assignments made through AssignRole live only in memory. They are kept
// apart from the policy file and re-applied after every reload.
type Enforcer struct {
	config   *EnforcerConfig
	enforcer *casbin.SyncedEnforcer
	cache    *enforcementCache
	fromFile bool

	// assignMu serializes role changes against policy reloads.
	assignMu sync.Mutex
	assigned map[string]map[string]struct{}

	stopReload chan struct{}
	reloadDone chan struct{}
	closeOnce  sync.Once
}

// NewEnforcer creates a new authorization enforcer.
func NewEnforcer(_ context.Context, config *EnforcerConfig) (*Enforcer, error) {
	if config == nil {
		config = DefaultEnforcerConfig()
	}

	var m model.Model
	var err error
	if config.ModelPath != "" && fileExists(config.ModelPath) {
		m, err = model.NewModelFromFile(config.ModelPath)
	} else {
		m, err = model.NewModelFromString(embeddedModel)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}

	var enforcer *casbin.SyncedEnforcer
	fromFile := config.PolicyPath != "" && fileExists(config.PolicyPath)
	if fromFile {
		enforcer, err = casbin.NewSyncedEnforcer(m, fileadapter.NewAdapter(config.PolicyPath))
	} else {
		enforcer, err = casbin.NewSyncedEnforcer(m)
		if err == nil {
			err = loadEmbeddedPolicy(enforcer, embeddedPolicy)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}

	e := &Enforcer{
		config:   config,
		enforcer: enforcer,
		fromFile: fromFile,
		assigned: make(map[string]map[string]struct{}),
	}
	if config.CacheEnabled {
		e.cache = newEnforcementCache(config.CacheTTL)
	}

	if config.AutoReload && fromFile && config.ReloadInterval > 0 {
		e.stopReload = make(chan struct{})
		e.reloadDone = make(chan struct{})
		go e.autoReload(config.ReloadInterval)
	}

	e.refreshRuleGauges()
	return e, nil
}

// autoReload re-reads the policy file every interval until Close.
func (e *Enforcer) autoReload(interval time.Duration) {
	defer close(e.reloadDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopReload:
			return
		case <-ticker.C:
			if err := e.LoadPolicy(); err != nil {
				logging.Warn().Err(err).Str("policy_path", e.config.PolicyPath).Msg("authorization policy reload failed")
			}
		}
	}
}

// loadEmbeddedPolicy parses the embedded CSV policy (p and g lines).
func loadEmbeddedPolicy(enforcer *casbin.SyncedEnforcer, policy string) error {
	for _, line := range strings.Split(policy, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) < 3 {
			continue
		}

		switch rule := parts[1:]; parts[0] {
		case "p":
			if len(rule) >= 3 {
				if _, err := enforcer.AddPolicy(rule[0], rule[1], rule[2]); err != nil {
					return fmt.Errorf("failed to add policy %v: %w", rule, err)
				}
			}
		case "g":
			if _, err := enforcer.AddGroupingPolicy(rule[0], rule[1]); err != nil {
				return fmt.Errorf("failed to add grouping policy %v: %w", rule, err)
			}
		}
	}
	return nil
}

// Enforce checks if subject holds the action entitlement on object.
func (e *Enforcer) Enforce(subject, object, action string) (bool, error) {
	start := time.Now()

	if e.cache != nil {
		if allowed, ok := e.cache.get(subject, object, action); ok {
			AuthzCacheHitsTotal.Inc()
			recordDecision(action, allowed, true, time.Since(start))
			return allowed, nil
		}
		AuthzCacheMissesTotal.Inc()
	}

	allowed, err := e.enforcer.Enforce(subject, object, action)
	if err != nil {
		AuthzErrorsTotal.WithLabelValues("enforcer_error").Inc()
		return false, fmt.Errorf("enforcement failed: %w", err)
	}

	if e.cache != nil {
		e.cache.set(subject, object, action, allowed)
	}
	recordDecision(action, allowed, false, time.Since(start))
	return allowed, nil
}

// ListAuthorizedPrincipals returns the principal ids holding entitlement on
// target, sorted. An empty target asks for the unscoped entitlement.
//
// Candidates are every non-role subject named in the policy or in a role
// assignment. AssignRole records an assignment when a connection is
// authenticated, so the result covers everyone who has connected since the
// policy was loaded.
func (e *Enforcer) ListAuthorizedPrincipals(ctx context.Context, entitlement, target string) ([]string, error) {
	if entitlement == "" {
		return nil, ErrEmptyEntitlement
	}
	object := target
	if object == "" {
		object = AnyObject
	}

	subjects, err := e.principalCandidates()
	if err != nil {
		return nil, err
	}

	authorized := make([]string, 0, len(subjects))
	for _, subject := range subjects {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		allowed, err := e.Enforce(subject, object, entitlement)
		if err != nil {
			return nil, err
		}
		if allowed {
			authorized = append(authorized, subject)
		}
	}
	return authorized, nil
}

// principalCandidates returns the sorted subjects of p and g rules that are not roles.
func (e *Enforcer) principalCandidates() ([]string, error) {
	policies, err := e.enforcer.GetPolicy()
	if err != nil {
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}
	grouping, err := e.enforcer.GetGroupingPolicy()
	if err != nil {
		return nil, fmt.Errorf("failed to read grouping policy: %w", err)
	}

	seen := make(map[string]struct{})
	var out []string
	for _, rules := range [][][]string{policies, grouping} {
		for _, rule := range rules {
			if len(rule) == 0 || IsRole(rule[0]) {
				continue
			}
			if _, dup := seen[rule[0]]; dup {
				continue
			}
			seen[rule[0]] = struct{}{}
			out = append(out, rule[0])
		}
	}

	sort.Strings(out)
	return out, nil
}

// RolePrefix marks policy subjects that are roles rather than principals.
const RolePrefix = "role:"

// RoleSubject returns the policy subject for a role name.
func RoleSubject(role string) string {
	if IsRole(role) {
		return role
	}
	return RolePrefix + role
}

// IsRole reports whether subject names a role.
func IsRole(subject string) bool {
	return strings.HasPrefix(subject, RolePrefix)
}

// AssignRole gives principalID the role, falling back to the default role when
// role is empty. Previous roles of the principal are kept.
func (e *Enforcer) AssignRole(principalID, role string) error {
	if role == "" {
		role = e.config.DefaultRole
	}
	if role == "" {
		return nil
	}
	subject := RoleSubject(role)

	e.assignMu.Lock()
	defer e.assignMu.Unlock()

	added, err := e.enforcer.AddGroupingPolicy(principalID, subject)
	if err != nil {
		return fmt.Errorf("failed to add role: %w", err)
	}
	roles, ok := e.assigned[principalID]
	if !ok {
		roles = make(map[string]struct{})
		e.assigned[principalID] = roles
	}
	roles[subject] = struct{}{}

	if added {
		AuthzRoleAssignmentsTotal.WithLabelValues(role, "assign").Inc()
		e.invalidate(principalID)
		e.refreshRuleGauges()
	}
	return nil
}

// RevokeRole removes role from principalID.
func (e *Enforcer) RevokeRole(principalID, role string) error {
	subject := RoleSubject(role)

	e.assignMu.Lock()
	defer e.assignMu.Unlock()

	removed, err := e.enforcer.RemoveGroupingPolicy(principalID, subject)
	if err != nil {
		return fmt.Errorf("failed to remove role: %w", err)
	}
	if roles, ok := e.assigned[principalID]; ok {
		delete(roles, subject)
		if len(roles) == 0 {
			delete(e.assigned, principalID)
		}
	}

	if removed {
		AuthzRoleAssignmentsTotal.WithLabelValues(role, "revoke").Inc()
		e.invalidate(principalID)
		e.refreshRuleGauges()
	}
	return nil
}

// RolesFor returns the role names directly assigned to principalID.
func (e *Enforcer) RolesFor(principalID string) ([]string, error) {
	subjects, err := e.enforcer.GetRolesForUser(principalID)
	if err != nil {
		return nil, err
	}
	roles := make([]string, 0, len(subjects))
	for _, s := range subjects {
		roles = append(roles, strings.TrimPrefix(s, RolePrefix))
	}
	return roles, nil
}

// Grant adds a policy rule giving subject the entitlement on object.
func (e *Enforcer) Grant(subject, object, entitlement string) error {
	if _, err := e.enforcer.AddPolicy(subject, object, entitlement); err != nil {
		return fmt.Errorf("failed to add policy: %w", err)
	}
	if e.cache != nil {
		e.cache.clear()
		AuthzCacheInvalidationsTotal.WithLabelValues("policy_update").Inc()
	}
	e.refreshRuleGauges()
	return nil
}

// ErrNoAdapter is returned by LoadPolicy when the embedded policy is in use.
var ErrNoAdapter = errors.New("no policy adapter configured; using embedded policy")

// ErrEmptyEntitlement is returned when an authorization query names no entitlement.
var ErrEmptyEntitlement = errors.New("entitlement must not be empty")

// LoadPolicy reloads the policy from PolicyPath and re-applies the role
// assignments made through AssignRole.
func (e *Enforcer) LoadPolicy() error {
	if !e.fromFile {
		return ErrNoAdapter
	}

	e.assignMu.Lock()
	defer e.assignMu.Unlock()

	if err := e.enforcer.LoadPolicy(); err != nil {
		AuthzPolicyReloadsTotal.WithLabelValues("failure").Inc()
		return err
	}

	var reapplyErr error
	for principalID, roles := range e.assigned {
		for subject := range roles {
			if _, err := e.enforcer.AddGroupingPolicy(principalID, subject); err != nil {
				reapplyErr = errors.Join(reapplyErr, fmt.Errorf("re-apply %s to %s: %w", subject, principalID, err))
			}
		}
	}

	if e.cache != nil {
		e.cache.clear()
		AuthzCacheInvalidationsTotal.WithLabelValues("policy_update").Inc()
	}
	e.refreshRuleGauges()

	if reapplyErr != nil {
		AuthzPolicyReloadsTotal.WithLabelValues("failure").Inc()
		return reapplyErr
	}
	AuthzPolicyReloadsTotal.WithLabelValues("success").Inc()
	return nil
}

// Close stops policy auto-reload and the cache janitor.
func (e *Enforcer) Close() {
	e.closeOnce.Do(func() {
		if e.stopReload != nil {
			close(e.stopReload)
			<-e.reloadDone
		}
		if e.cache != nil {
			e.cache.stop()
		}
	})
}

func (e *Enforcer) invalidate(principalID string) {
	if e.cache != nil {
		e.cache.invalidateSubject(principalID)
		AuthzCacheInvalidationsTotal.WithLabelValues("role_change").Inc()
	}
}

func (e *Enforcer) refreshRuleGauges() {
	//nolint:errcheck // only fails on a nil model
	policies, _ := e.enforcer.GetPolicy()
	//nolint:errcheck // only fails on a nil model
	grouping, _ := e.enforcer.GetGroupingPolicy()
	AuthzPolicyRulesTotal.Set(float64(len(policies)))
	AuthzGroupingRulesTotal.Set(float64(len(grouping)))
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
