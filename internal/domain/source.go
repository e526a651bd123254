package domain

// SourceKind identifies a backend source family.
type SourceKind string

const (
	SourceSubsonic SourceKind = "subsonic"
	SourceJellyfin SourceKind = "jellyfin"
	SourceLocal    SourceKind = "local"
)

// MergePriority is the fixed order sources are visited during
// reconciliation. Lower rank wins ordering in merged collections.
var MergePriority = []SourceKind{SourceSubsonic, SourceJellyfin, SourceLocal}

// PriorityRank returns the merge rank for a kind; unknown kinds sort last.
func PriorityRank(kind SourceKind) int {
	for i, k := range MergePriority {
		if k == kind {
			return i
		}
	}
	return len(MergePriority)
}

// SourceRef is a reference to one configured library source. Created when
// the user adds a source, destroyed when removed; the pipeline reads the
// presence set at the start of each run.
type SourceRef struct {
	Kind        SourceKind `json:"kind"`
	ID          string     `json:"id"`                    // Server id or local source id
	Name        string     `json:"name"`                  // Display name
	TreePath    string     `json:"treePath,omitempty"`    // Local sources: root of the scanned tree
	ServerURL   string     `json:"serverUrl,omitempty"`   // Remote sources
	AddedAt     int64      `json:"addedAt,omitempty"`     // Unix millis
	LastScanned int64      `json:"lastScanned,omitempty"` // Unix millis, local sources
}

// JellyfinServer describes one configured Jellyfin backend. Jellyfin
// sources live in their own registry, parallel to SourceRef.
type JellyfinServer struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	UserID  string `json:"userId,omitempty"`
}

// DisplayName returns the server name, falling back to its id.
func (s JellyfinServer) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}
