package main

import (
	"sync"

	"github.com/gorilla/mux"
	"github.com/mattermost/mattermost/server/public/model"
	"github.com/mattermost/mattermost/server/public/plugin"
	"github.com/mattermost/mattermost/server/public/pluginapi"
	"github.com/pkg/errors"

	"github.com/mattermost/mattermost-plugin-settings-store/server/settings"
	"github.com/mattermost/mattermost-plugin-settings-store/server/store/kvstore"
)

// Plugin implements the interface expected by the Mattermost server to communicate between the server and plugin processes.
type Plugin struct {
	plugin.MattermostPlugin

	// client is the Mattermost server API client.
	client *pluginapi.Client

	// store adapts the plugin KV store to the settings layer and relays
	// change batches across the cluster.
	store *kvstore.PluginStore

	// registry indexes the settings declared below for the HTTP surface.
	registry *settings.Registry

	// router serves the settings REST API.
	router *mux.Router

	// Example settings demonstrating the accessor layer. A real plugin
	// declares its own here.
	theme         *settings.Accessor[string]
	maxItems      *settings.Accessor[int]
	notifications *settings.Accessor[bool]

	// unwatchers tears down the watchers installed on activation. Watchers
	// hold entries in the store's listener registry until unregistered, so
	// deactivation must release every one of them.
	unwatchers []func()

	// configurationLock synchronizes access to the configuration.
	configurationLock sync.RWMutex

	// configuration is the active plugin configuration. Consult getConfiguration and
	// setConfiguration for usage.
	configuration *configuration
}

// OnActivate is invoked when the plugin is activated. If an error is returned, the plugin will be deactivated.
func (p *Plugin) OnActivate() error {
	p.client = pluginapi.NewClient(p.API, p.Driver)

	p.store = kvstore.NewPluginStore(p.client, p.API)
	p.registry = settings.NewRegistry()

	log := &p.client.Log
	p.theme = settings.New(p.store, settings.Definition[string]{Key: "theme", Default: "light"}, log)
	p.maxItems = settings.New(p.store, settings.Definition[int]{Key: "max_items", Default: 25}, log)
	p.notifications = settings.New(p.store, settings.Definition[bool]{Key: "notifications", Default: true}, log)

	for _, h := range []settings.Handle{p.theme, p.maxItems, p.notifications} {
		if err := p.registry.Add(h); err != nil {
			return errors.Wrap(err, "failed to register settings")
		}
	}

	// Watchers fire for changes from any source: this process, the REST
	// API, or another node of the cluster.
	p.unwatchers = append(p.unwatchers, p.theme.Watch(func(value string) {
		p.client.Log.Debug("Theme setting changed", "value", value)
	}))

	p.router = p.newRouter()

	return nil
}

// OnDeactivate is invoked when the plugin is deactivated.
// Releases every watcher subscription; unregister functions are idempotent
// and never fail, so teardown cannot abort partway.
func (p *Plugin) OnDeactivate() error {
	for _, unwatch := range p.unwatchers {
		unwatch()
	}
	p.unwatchers = nil
	return nil
}

// OnPluginClusterEvent receives change batches broadcast by other nodes and
// replays them onto the local change feed so watchers on this node fire.
func (p *Plugin) OnPluginClusterEvent(_ *plugin.Context, ev model.PluginClusterEvent) {
	if p.store == nil || ev.Id != kvstore.ClusterEventChanges {
		return
	}
	p.store.HandleClusterEvent(ev.Data)
}

// See https://developers.mattermost.com/extend/plugins/server/reference/
