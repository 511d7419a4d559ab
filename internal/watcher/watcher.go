// Package watcher provides file system monitoring for the gateway
// configuration file. Changes are debounced, deduplicated by content
// hash, and hot-reloaded into the shared config store so credential
// pools, rate limits, and prices update without a restart.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/util"
)

// debounceWindow coalesces bursts of write events into one reload
// attempt. Editors and atomic-save tools emit several events per save;
// each relevant event pushes the deadline out again so only the final
// state of the file is parsed.
const debounceWindow = 150 * time.Millisecond

// Watcher watches the configuration file and swaps freshly parsed
// configurations into the shared store.
type Watcher struct {
	configPath string
	store      *config.Store
	onReload   func(*config.Config)
	watcher    *fsnotify.Watcher

	mu       sync.Mutex
	lastHash string
}

// NewWatcher creates a file watcher for the given config path. The
// onReload callback, when non-nil, receives every successfully parsed
// configuration before it becomes visible in the store, giving
// dependent components a chance to rebuild themselves first.
func NewWatcher(configPath string, store *config.Store, onReload func(*config.Config)) (*Watcher, error) {
	fsWatcher, errNewWatcher := fsnotify.NewWatcher()
	if errNewWatcher != nil {
		return nil, errNewWatcher
	}

	return &Watcher{
		configPath: configPath,
		store:      store,
		onReload:   onReload,
		watcher:    fsWatcher,
	}, nil
}

// Start begins watching the configuration file.
func (w *Watcher) Start(ctx context.Context) error {
	if errAdd := w.watcher.Add(w.configPath); errAdd != nil {
		log.Errorf("failed to watch config file %s: %v", w.configPath, errAdd)
		return errAdd
	}
	log.Debugf("watching %s for config changes", w.configPath)

	go w.watchLoop(ctx)

	return nil
}

// Stop stops the file watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

// watchLoop consumes file system events, debouncing reloads.
func (w *Watcher) watchLoop(ctx context.Context) {
	debounce := time.NewTimer(debounceWindow)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevantEvent(event) {
				continue
			}
			log.Debugf("file system event detected: %s %s", event.Op.String(), event.Name)
			if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}
			debounce.Reset(debounceWindow)
		case errWatch, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("config watcher error: %v", errWatch)
		case <-debounce.C:
			w.reload()
		}
	}
}

// relevantEvent reports whether the event is a content change of the
// watched config file. Some editors replace the file on save, which
// surfaces as a Create rather than a Write.
func (w *Watcher) relevantEvent(event fsnotify.Event) bool {
	if event.Name != w.configPath {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create) != 0
}

// reload re-parses the config file and swaps the result into the store.
// Content whose hash matches the previous reload is skipped, and a file
// that fails to parse leaves the current configuration serving.
func (w *Watcher) reload() {
	data, errRead := os.ReadFile(w.configPath)
	if errRead != nil {
		log.Errorf("failed to read config file for hash check: %v", errRead)
		return
	}
	if len(data) == 0 {
		log.Debugf("ignoring empty config file write event")
		return
	}
	sum := sha256.Sum256(data)
	newHash := hex.EncodeToString(sum[:])

	w.mu.Lock()
	currentHash := w.lastHash
	w.mu.Unlock()

	if currentHash != "" && currentHash == newHash {
		log.Debugf("config file content unchanged (hash match), skipping reload")
		return
	}

	log.Infof("config file changed, reloading: %s", w.configPath)
	newConfig, errLoadConfig := config.LoadConfig(w.configPath)
	if errLoadConfig != nil {
		// The previous configuration keeps serving. The hash is left
		// untouched so a corrected file triggers another attempt.
		log.Errorf("config reload failed: %v", errLoadConfig)
		return
	}

	util.SetLogLevel(newConfig.Debug)
	w.logConfigChanges(w.store.Load(), newConfig)

	// Dependent components rebuild from the new config before it becomes
	// visible to request handling.
	if w.onReload != nil {
		w.onReload(newConfig)
	}
	w.store.Swap(newConfig)

	w.mu.Lock()
	w.lastHash = newHash
	w.mu.Unlock()

	log.Infof("config successfully reloaded")
}

// logConfigChanges emits debug-level diffs for the settings most often
// edited at runtime.
func (w *Watcher) logConfigChanges(oldConfig, newConfig *config.Config) {
	if oldConfig == nil {
		return
	}
	if oldConfig.Port != newConfig.Port {
		log.Debugf("  port: %d -> %d (takes effect on restart)", oldConfig.Port, newConfig.Port)
	}
	if oldConfig.Debug != newConfig.Debug {
		log.Debugf("  debug: %t -> %t", oldConfig.Debug, newConfig.Debug)
	}
	if oldConfig.ProxyURL != newConfig.ProxyURL {
		log.Debugf("  proxy-url: %s -> %s (takes effect on restart)", oldConfig.ProxyURL, newConfig.ProxyURL)
	}
	if oldConfig.Routing.Strategy != newConfig.Routing.Strategy {
		log.Debugf("  routing.strategy: %s -> %s", oldConfig.Routing.Strategy, newConfig.Routing.Strategy)
	}
	if oldConfig.RateLimit.Enabled != newConfig.RateLimit.Enabled {
		log.Debugf("  rate-limit.enabled: %t -> %t", oldConfig.RateLimit.Enabled, newConfig.RateLimit.Enabled)
	}
	if oldConfig.BodyLimitMB != newConfig.BodyLimitMB {
		log.Debugf("  body-limit-mb: %d -> %d", oldConfig.BodyLimitMB, newConfig.BodyLimitMB)
	}
	if len(oldConfig.APIKeys) != len(newConfig.APIKeys) {
		log.Debugf("  api-keys count: %d -> %d", len(oldConfig.APIKeys), len(newConfig.APIKeys))
	}
	if len(oldConfig.ManagementKeys) != len(newConfig.ManagementKeys) {
		log.Debugf("  management-keys count: %d -> %d", len(oldConfig.ManagementKeys), len(newConfig.ManagementKeys))
	}
	if len(oldConfig.ClaudeKeys) != len(newConfig.ClaudeKeys) {
		log.Debugf("  claude-api-key count: %d -> %d", len(oldConfig.ClaudeKeys), len(newConfig.ClaudeKeys))
	}
	if len(oldConfig.OpenAIKeys) != len(newConfig.OpenAIKeys) {
		log.Debugf("  openai-api-key count: %d -> %d", len(oldConfig.OpenAIKeys), len(newConfig.OpenAIKeys))
	}
	if len(oldConfig.GeminiKeys) != len(newConfig.GeminiKeys) {
		log.Debugf("  gemini-api-key count: %d -> %d", len(oldConfig.GeminiKeys), len(newConfig.GeminiKeys))
	}
	if len(oldConfig.OpenAICompat) != len(newConfig.OpenAICompat) {
		log.Debugf("  openai-compatibility count: %d -> %d", len(oldConfig.OpenAICompat), len(newConfig.OpenAICompat))
	}
}
