package config

import (
	"errors"
	"slices"
	"strings"
	"sync"
)

// Watcher feature names. Every feature starts enabled; FEATURE_<NAME> with
// dots turned into underscores overrides it, e.g. FEATURE_WATCH_MESSAGES=false.
const (
	FeatureWatchHomework       = "watch.homework"                // deliver new homework
	FeatureWatchMarks          = "watch.marks"                   // deliver new marks
	FeatureWatchMessages       = "watch.messages"                // run the message loop
	FeatureDownloadAttachments = "homework.download_attachments" // save attachments to DOWNLOAD_DIR
)

// ErrFeatureNotFound is returned by SetEnabled for names that are not defined.
var ErrFeatureNotFound = errors.New("feature not found")

// Feature is one named toggle.
type Feature struct {
	Name        string
	Description string
	Enabled     bool
}

var defaultFeatures = []Feature{
	{Name: FeatureWatchHomework, Description: "Deliver newly assigned homework", Enabled: true},
	{Name: FeatureWatchMarks, Description: "Deliver newly posted marks", Enabled: true},
	{Name: FeatureWatchMessages, Description: "Poll chat threads for new messages", Enabled: true},
	{Name: FeatureDownloadAttachments, Description: "Download homework attachments", Enabled: true},
}

// FeatureFlags is safe for concurrent use.
type FeatureFlags struct {
	mu       sync.RWMutex
	features map[string]Feature
}

// LoadFeatureFlags applies environment overrides to the defaults.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{features: make(map[string]Feature, len(defaultFeatures))}
	for _, f := range defaultFeatures {
		f.Enabled = getEnvBool(featureEnvKey(f.Name), f.Enabled)
		ff.features[f.Name] = f
	}
	return ff
}

// featureEnvKey maps "watch.messages" to "FEATURE_WATCH_MESSAGES".
func featureEnvKey(name string) string {
	return "FEATURE_" + strings.ToUpper(strings.ReplaceAll(name, ".", "_"))
}

// IsEnabled reports whether name is on. Unknown names and a nil receiver
// report false.
func (ff *FeatureFlags) IsEnabled(name string) bool {
	if ff == nil {
		return false
	}
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	return ff.features[name].Enabled
}

// SetEnabled toggles a defined feature.
func (ff *FeatureFlags) SetEnabled(name string, enabled bool) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	f, ok := ff.features[name]
	if !ok {
		return ErrFeatureNotFound
	}
	f.Enabled = enabled
	ff.features[name] = f
	return nil
}

// Enabled lists the enabled feature names in sorted order.
func (ff *FeatureFlags) Enabled() []string {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	var names []string
	for name, f := range ff.features {
		if f.Enabled {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}
