package account

// Endpoint describes a server connection endpoint.
type Endpoint struct {
	Proto string `json:"proto"`
	Host  string `json:"host"`
	Port  int    `json:"port"`
}

// PushSettings holds push-notification registration parameters. The
// registration flow itself is handled outside the engine.
type PushSettings struct {
	Service string `json:"service,omitempty"`
	Node    string `json:"node,omitempty"`
	Enabled bool   `json:"enabled,omitempty"`
}

// Additional is the per-account settings blob stored alongside the
// connection parameters.
type Additional struct {
	DeviceID       uint32 `json:"deviceId,omitempty"`
	AcceptedCertFP string `json:"acceptedCertificate,omitempty"`
	Nickname       string `json:"nick,omitempty"`
	DisableTLS13   bool   `json:"disableTls13,omitempty"`
}

// Account is one configured account. The secret (password) portion is
// never part of this record once saved; it lives only in the secret
// store and is read back on demand.
type Account struct {
	// Name is the immutable account identifier (bare address).
	Name           string        `json:"name"`
	Enabled        bool          `json:"enabled"`
	ServerEndpoint *Endpoint     `json:"serverEndpoint,omitempty"`
	LastEndpoint   *Endpoint     `json:"lastEndpoint,omitempty"`
	RosterVersion  string        `json:"rosterVersion,omitempty"`
	StatusMessage  string        `json:"statusMessage,omitempty"`
	Push           *PushSettings `json:"push,omitempty"`
	Additional     Additional    `json:"additional"`

	// NewPassword stages a secret for the next Save. It is written to
	// the secret store and cleared; it is never serialized and never
	// kept resident after a successful Save.
	NewPassword *string `json:"-"`
}
