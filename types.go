package contentsync

import (
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/api"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/auth"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/binding"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/content"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/language"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/realtime"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/store"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/syncer"
)

type (
	Config   = auth.Config
	Record   = content.Record
	Change   = syncer.Change
	Update   = binding.Update
	Listener = binding.Listener

	// Store is the durable key/value storage a Client persists to.
	Store = store.Store
)

type (
	ConfigurationError    = auth.ConfigurationError
	AuthenticationError   = auth.AuthenticationError
	FetchError            = api.FetchError
	MalformedPayloadError = realtime.MalformedPayloadError
	UnknownLanguageError  = language.UnknownLanguageError
)

var (
	// ErrCryptoUnavailable means the realtime handshake cannot be built on
	// this host. The client keeps working over REST only.
	ErrCryptoUnavailable = cryptoutil.ErrCryptoUnavailable

	ErrNotAuthenticated = syncer.ErrNotAuthenticated

	// ErrSuperseded is returned by Configure or Refresh when a later
	// Configure replaced the project while they were syncing.
	ErrSuperseded = syncer.ErrSuperseded
)

// LanguageChange is emitted when SetLanguage switches the active language.
type LanguageChange struct {
	Old string
	New string
}

// Metrics is implemented by internal/metrics.
type Metrics interface {
	syncer.Metrics
	realtime.Metrics
	binding.Metrics
}

func NewMemoryStore() Store { return store.NewMemory() }

// NewFileStore keeps one JSON file per key under dir.
func NewFileStore(dir string) (Store, error) { return store.NewFile(dir, nil) }
