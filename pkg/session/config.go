package session

import "time"

// Config controls one session. Fields carry env tags so daemons can be
// configured without flags; flags still override in cmd mains.
type Config struct {
	// Listen is the address for the peer listener; port 0 picks an
	// ephemeral port which then lands in the ticket.
	Listen string `env:"TELESCRAWL_LISTEN" envDefault:"127.0.0.1:0"`
	// Offline disables every connection attempt and broadcast. The
	// document, log, and undo behave identically offline.
	Offline bool `env:"TELESCRAWL_OFFLINE"`
	// Name is the display name carried in presence updates.
	Name string `env:"TELESCRAWL_NAME"`
	// StoragePath, when set, persists the operation log to sqlite and
	// seeds from it on startup.
	StoragePath string `env:"TELESCRAWL_STORAGE"`
	// Discovery enables zeroconf advertise/browse on the local network.
	Discovery bool `env:"TELESCRAWL_DISCOVERY"`

	// PresenceInterval bounds how often coalesced presence updates go out.
	PresenceInterval time.Duration `env:"TELESCRAWL_PRESENCE_INTERVAL" envDefault:"250ms"`
	// PresenceTTL is how long a silent peer's cursor stays visible.
	PresenceTTL time.Duration `env:"TELESCRAWL_PRESENCE_TTL" envDefault:"5s"`
	// SaveInterval is how often a configured storage path is flushed.
	SaveInterval time.Duration `env:"TELESCRAWL_SAVE_INTERVAL" envDefault:"5s"`
}
