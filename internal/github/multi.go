package github

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/policy-agent/internal/errors"
	"github.com/p-blackswan/policy-agent/lru"
)

// OrgInstallation maps an org/owner name to its installation ID.
type OrgInstallation struct {
	Owner          string `json:"owner"`
	InstallationID int64  `json:"installation_id"`
}

// installationCacheTTL bounds how long an idle installation client is kept.
const installationCacheTTL = time.Hour

// MultiClient resolves the installation for any configured owner. The
// fact-check pipeline reads PRs of arbitrary repositories, so gateways are
// built per owner/repo on demand. Installations are cached in an LRU with
// a TTL and rebuilt lazily after eviction.
type MultiClient struct {
	app     *App
	orgs    map[string]int64 // owner → installationID
	clients *lru.Cache[string, *Installation]
	timeout time.Duration

	fallback  string // default owner when not specified
	singleOrg bool   // true = any owner maps to fallback installation
	logger    zerolog.Logger
}

// NewMultiClient creates a MultiClient from a list of org installations.
// The first org in the list becomes the default fallback.
func NewMultiClient(app *App, orgs []OrgInstallation, logger zerolog.Logger) (*MultiClient, error) {
	if len(orgs) == 0 {
		return nil, fmt.Errorf("at least one org installation is required")
	}

	orgMap := make(map[string]int64, len(orgs))
	for _, o := range orgs {
		orgMap[strings.ToLower(o.Owner)] = o.InstallationID
	}

	return &MultiClient{
		app:       app,
		orgs:      orgMap,
		clients:   lru.New[string, *Installation](len(orgMap)+1, lru.WithTTL[string, *Installation](installationCacheTTL)),
		timeout:   app.timeout,
		fallback:  strings.ToLower(orgs[0].Owner),
		singleOrg: len(orgMap) == 1,
		logger:    logger.With().Str("component", "github-multi").Logger(),
	}, nil
}

// ForOwner returns the installation serving owner.
func (m *MultiClient) ForOwner(owner string) (*Installation, error) {
	key := strings.ToLower(owner)
	instID, ok := m.orgs[key]
	if !ok {
		// Single-org mode: any owner uses the fallback installation
		if !m.singleOrg {
			return nil, perrors.NotFound("github.ForOwner", "no GitHub installation configured for org %q (configured: %s)", owner, strings.Join(m.Owners(), ", "))
		}
		instID = m.orgs[m.fallback]
		key = m.fallback
		m.logger.Debug().Str("owner", owner).Str("fallback", m.fallback).Msg("single-org mode: using fallback installation")
	}

	if inst, ok := m.clients.Get(key); ok {
		return inst, nil
	}
	inst := m.app.Installation(instID)
	m.clients.Put(key, inst)
	m.logger.Info().Str("owner", key).Int64("installation_id", instID).Msg("GitHub installation client created")
	return inst, nil
}

// Gateway returns a Gateway bound to ref using the owner's installation.
func (m *MultiClient) Gateway(ref RepositoryRef) (*Gateway, error) {
	inst, err := m.ForOwner(ref.Owner)
	if err != nil {
		return nil, err
	}
	return NewGateway(inst, ref, m.timeout, m.logger), nil
}

// DefaultOwner returns the fallback org name.
func (m *MultiClient) DefaultOwner() string {
	return m.fallback
}

// HasOwner checks if an org is configured.
func (m *MultiClient) HasOwner(owner string) bool {
	_, ok := m.orgs[strings.ToLower(owner)]
	return ok
}

// Owners returns all configured org names, sorted.
func (m *MultiClient) Owners() []string {
	owners := make([]string, 0, len(m.orgs))
	for o := range m.orgs {
		owners = append(owners, o)
	}
	sort.Strings(owners)
	return owners
}
