package filtergraph

import "fmt"

// Filter is a filter kind registered in libavfilter ("scale", "buffer", ...).
// Filter kinds are static engine data: a Filter is never freed and remains
// valid for the life of the process, across every graph.
type Filter struct {
	ptr  uintptr
	name string
}

// FindFilter looks up a filter kind by name.
func FindFilter(name string) (*Filter, error) {
	api, err := loadFFI()
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrFilterNotFound)
	}

	ptr := api.getByName(cString(name))
	if ptr == 0 {
		return nil, fmt.Errorf("%w: %q", ErrFilterNotFound, name)
	}

	return newFilter(api, ptr, name), nil
}

func newFilter(api *ffi, ptr uintptr, fallback string) *Filter {
	name := api.filterName(ptr)
	if name == "" {
		name = fallback
	}
	return &Filter{ptr: ptr, name: name}
}

// Name returns the registered name of the filter kind.
func (f *Filter) Name() string {
	return f.name
}

// IsSource reports whether instances accept frames through PushFrame.
func (f *Filter) IsSource() bool {
	return f.name == "buffer" || f.name == "abuffer"
}

// IsSink reports whether instances produce frames through PullFrame.
func (f *Filter) IsSink() bool {
	return f.name == "buffersink" || f.name == "abuffersink"
}

func (f *Filter) String() string {
	return f.name
}
