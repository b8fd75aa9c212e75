package assets

import "context"

// Provisioner ensures a persistent store holds the assets a manifest
// requests. All methods are safe for concurrent use.
// For CLI integration, use NewCommand instead.
type Provisioner interface {
	// Provision ensures every manifest entry's destination holds the
	// complete file, fetching missing or incomplete entries from their
	// registries. It returns one FetchResult per entry in input order.
	//
	// Entries are independent: a failed entry never blocks the others,
	// and re-running with the same manifest only fetches what is still
	// missing. The returned error reports invalid input (a malformed
	// manifest) or a store that could not be prepared; per-entry
	// failures are reported only through the results.
	Provision(ctx context.Context, manifest Manifest, creds Credentials, opts ...ProvisionOption) (Results, error)

	// Installed returns the files present in the store, optionally
	// limited to the given asset kinds.
	Installed(ctx context.Context, kinds ...AssetKind) ([]StoreFile, error)

	// StoreDir returns the resolved store root directory.
	StoreDir() string
}

// Ensure provisioner implements the Provisioner interface.
var _ Provisioner = (*provisioner)(nil)

// NewProvisioner creates a Provisioner for the given configuration.
// The store directory is created if it does not exist.
func NewProvisioner(cfg Config, opts ...Option) (Provisioner, error) {
	pcfg := newProvisionerConfig()
	for _, opt := range opts {
		opt(pcfg)
	}

	store, err := newStore(cfg)
	if err != nil {
		return nil, err
	}

	return &provisioner{
		cfg:      cfg,
		store:    store,
		registry: newRegistryClient(cfg, pcfg.httpClient, pcfg.log),
		log:      pcfg.log,
	}, nil
}
