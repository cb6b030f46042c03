package cipher

import (
	"context"
	"sort"
	"strings"
	"sync"

	E "github.com/sagernet/sing/common/exceptions"
)

var (
	methods  registry[MethodCreator]
	services registry[ServiceCreator]
)

// registry maps lowercased method names to creators.
type registry[T any] struct {
	access   sync.RWMutex
	creators map[string]T
}

func (r *registry[T]) register(names []string, creator T) {
	r.access.Lock()
	defer r.access.Unlock()
	if r.creators == nil {
		r.creators = make(map[string]T)
	}
	for _, name := range names {
		r.creators[strings.ToLower(name)] = creator
	}
}

func (r *registry[T]) lookup(name string) (T, error) {
	r.access.RLock()
	defer r.access.RUnlock()
	creator, loaded := r.creators[strings.ToLower(name)]
	if !loaded {
		return creator, E.Extend(ErrUnsupportedMethod, name)
	}
	return creator, nil
}

func (r *registry[T]) names() []string {
	r.access.RLock()
	defer r.access.RUnlock()
	names := make([]string, 0, len(r.creators))
	for name := range r.creators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func RegisterMethod(names []string, creator MethodCreator) {
	methods.register(names, creator)
}

func RegisterService(names []string, creator ServiceCreator) {
	services.register(names, creator)
}

func CreateMethod(ctx context.Context, methodName string, options MethodOptions) (Method, error) {
	creator, err := methods.lookup(methodName)
	if err != nil {
		return nil, err
	}
	return creator(ctx, methodName, options)
}

func CreateService(ctx context.Context, methodName string, options ServiceOptions) (Service, error) {
	creator, err := services.lookup(methodName)
	if err != nil {
		return nil, err
	}
	return creator(ctx, methodName, options)
}

// MethodNames returns every method name a Service can be created for,
// aliases included, sorted.
func MethodNames() []string {
	return services.names()
}
