package pool

import (
	"net"
	"sort"
	"sync"

	"github.com/sagernet/sing-shadowpool/config"
	"github.com/sagernet/sing/common"
	E "github.com/sagernet/sing/common/exceptions"
)

var (
	ErrDuplicateRegistration = E.New("duplicate registration")
	ErrUnknownUser           = E.New("unknown user")
)

// ServerID names one bound endpoint, e.g. "tcp://0.0.0.0:8388".
type ServerID string

func NewServerID(network string, address string) ServerID {
	return ServerID(network + "://" + address)
}

// ListenerHandle is a running accept loop or datagram loop for one user.
type ListenerHandle interface {
	ServerID() ServerID
	Addr() net.Addr
	Close() error
}

type Entry struct {
	User     config.User
	Handlers []ListenerHandle
}

// Registry records which users are active and the listeners serving them.
// A user is known exactly when it has an entry. All methods are safe for
// concurrent use; writes are serialized by one lock.
type Registry struct {
	access     sync.RWMutex
	entries    map[string]*Entry
	order      []string
	tcpServers map[ServerID]struct{}
	udpServers map[ServerID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		entries:    make(map[string]*Entry),
		tcpServers: make(map[ServerID]struct{}),
		udpServers: make(map[ServerID]struct{}),
	}
}

func (r *Registry) IsUserKnown(userID string) bool {
	r.access.RLock()
	defer r.access.RUnlock()
	_, loaded := r.entries[userID]
	return loaded
}

// RegisterUser creates an empty entry for user. Registering a known user is
// a caller error and leaves the existing entry untouched.
func (r *Registry) RegisterUser(user config.User) error {
	r.access.Lock()
	defer r.access.Unlock()
	if _, loaded := r.entries[user.ID]; loaded {
		return E.Extend(ErrDuplicateRegistration, "user ", user.ID)
	}
	r.entries[user.ID] = &Entry{User: user}
	r.order = append(r.order, user.ID)
	return nil
}

func (r *Registry) AttachTCPHandler(serverID ServerID, user config.User, handle ListenerHandle) error {
	return r.attach(r.tcpServers, serverID, user, handle)
}

func (r *Registry) AttachUDPHandler(serverID ServerID, user config.User, handle ListenerHandle) error {
	return r.attach(r.udpServers, serverID, user, handle)
}

func (r *Registry) attach(servers map[ServerID]struct{}, serverID ServerID, user config.User, handle ListenerHandle) error {
	r.access.Lock()
	defer r.access.Unlock()
	entry, loaded := r.entries[user.ID]
	if !loaded {
		return E.Extend(ErrUnknownUser, user.ID)
	}
	entry.Handlers = append(entry.Handlers, handle)
	servers[serverID] = struct{}{}
	return nil
}

func (r *Registry) HasTCPServer(serverID ServerID) bool {
	r.access.RLock()
	defer r.access.RUnlock()
	_, loaded := r.tcpServers[serverID]
	return loaded
}

func (r *Registry) HasUDPServer(serverID ServerID) bool {
	r.access.RLock()
	defer r.access.RUnlock()
	_, loaded := r.udpServers[serverID]
	return loaded
}

// Entry returns a copy of the user's entry.
func (r *Registry) Entry(userID string) (Entry, bool) {
	r.access.RLock()
	defer r.access.RUnlock()
	entry, loaded := r.entries[userID]
	if !loaded {
		return Entry{}, false
	}
	return Entry{
		User:     entry.User,
		Handlers: append([]ListenerHandle(nil), entry.Handlers...),
	}, true
}

func (r *Registry) Handlers(userID string) []ListenerHandle {
	entry, _ := r.Entry(userID)
	return entry.Handlers
}

// Users returns the known user ids in registration order.
func (r *Registry) Users() []string {
	r.access.RLock()
	defer r.access.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) ServerIDs() (tcp []ServerID, udp []ServerID) {
	r.access.RLock()
	defer r.access.RUnlock()
	tcp = sortedServerIDs(r.tcpServers)
	udp = sortedServerIDs(r.udpServers)
	return
}

func (r *Registry) Len() int {
	r.access.RLock()
	defer r.access.RUnlock()
	return len(r.entries)
}

// Close stops every listener. Users stay registered; it is meant for
// process shutdown only.
func (r *Registry) Close() error {
	r.access.RLock()
	var handles []any
	for _, userID := range r.order {
		for _, handle := range r.entries[userID].Handlers {
			handles = append(handles, handle)
		}
	}
	r.access.RUnlock()
	return common.Close(handles...)
}

func sortedServerIDs(servers map[ServerID]struct{}) []ServerID {
	ids := make([]ServerID, 0, len(servers))
	for id := range servers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i] < ids[j]
	})
	return ids
}
