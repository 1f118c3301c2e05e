package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/JonMunkholm/stonecat/internal/catalog"
)

// fakeAPI is an in-memory catalog. Hooks override individual calls.
type fakeAPI struct {
	mu sync.Mutex

	variants  map[string]string // name -> id
	specifics map[string]string // variantID/name -> id
	products  []catalog.ProductInput
	nextID    int

	createVariantCalls  int
	createSpecificCalls int
	findVariantCalls    int
	inFlight            int
	maxInFlight         int

	delay time.Duration

	onVariant  func(in catalog.VariantInput) (catalog.CreateOutcome, error, bool)
	onSpecific func(in catalog.SpecificVariantInput) (catalog.CreateOutcome, error, bool)
	onProduct  func(in catalog.ProductInput) (catalog.CreateOutcome, error, bool)
	onList     func(kind catalog.Kind)

	listed map[catalog.Kind][]json.RawMessage
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		variants:  make(map[string]string),
		specifics: make(map[string]string),
		listed:    make(map[catalog.Kind][]json.RawMessage),
	}
}

func (f *fakeAPI) enter() {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	d := f.delay
	f.mu.Unlock()
	if d > 0 {
		time.Sleep(d)
	}
}

func (f *fakeAPI) leave() {
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
}

func (f *fakeAPI) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s%d", prefix, f.nextID)
}

func created(id, name string) catalog.CreateOutcome {
	return catalog.CreateOutcome{Status: catalog.Created, Entity: &catalog.Entity{ID: id, Name: name}}
}

func (f *fakeAPI) CreateVariant(_ context.Context, in catalog.VariantInput) (catalog.CreateOutcome, error) {
	f.enter()
	defer f.leave()
	f.mu.Lock()
	f.createVariantCalls++
	hook := f.onVariant
	f.mu.Unlock()
	if hook != nil {
		if out, err, ok := hook(in); ok {
			return out, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.variants[in.Name]; ok {
		return catalog.CreateOutcome{Status: catalog.AlreadyExists, Message: "exists"}, nil
	}
	id := f.id("v")
	f.variants[in.Name] = id
	return created(id, in.Name), nil
}

func (f *fakeAPI) CreateSpecificVariant(_ context.Context, in catalog.SpecificVariantInput) (catalog.CreateOutcome, error) {
	f.enter()
	defer f.leave()
	f.mu.Lock()
	f.createSpecificCalls++
	hook := f.onSpecific
	f.mu.Unlock()
	if hook != nil {
		if out, err, ok := hook(in); ok {
			return out, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	key := in.VariantID + "/" + in.Name
	if _, ok := f.specifics[key]; ok {
		return catalog.CreateOutcome{Status: catalog.AlreadyExists, Message: "exists"}, nil
	}
	id := f.id("s")
	f.specifics[key] = id
	return created(id, in.Name), nil
}

func (f *fakeAPI) CreateProduct(_ context.Context, in catalog.ProductInput) (catalog.CreateOutcome, error) {
	f.enter()
	defer f.leave()
	f.mu.Lock()
	hook := f.onProduct
	f.mu.Unlock()
	if hook != nil {
		if out, err, ok := hook(in); ok {
			return out, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.products = append(f.products, in)
	return created(f.id("p"), in.Name), nil
}

func (f *fakeAPI) FindVariant(_ context.Context, name string) (*catalog.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findVariantCalls++
	if id, ok := f.variants[name]; ok {
		return &catalog.Entity{ID: id, Name: name}, nil
	}
	return nil, nil
}

func (f *fakeAPI) FindSpecificVariant(_ context.Context, variantID, name string) (*catalog.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.specifics[variantID+"/"+name]; ok {
		return &catalog.Entity{ID: id, Name: name}, nil
	}
	return nil, nil
}

func (f *fakeAPI) List(_ context.Context, kind catalog.Kind) ([]json.RawMessage, error) {
	if f.onList != nil {
		f.onList(kind)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.listed[kind]
	if !ok {
		return nil, errors.Newf("catalog api: list %s: 500 Internal Server Error", kind)
	}
	return raw, nil
}

func (f *fakeAPI) productNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.products))
	for i, p := range f.products {
		names[i] = p.Name
	}
	return names
}

// rowsOf builds rows numbered from line 2, as if parsed under a header.
func rowsOf(values ...map[string]string) []Row {
	rows := make([]Row, len(values))
	for i, v := range values {
		rows[i] = Row{Line: i + 2, Values: v}
	}
	return rows
}

// drain collects progress events until ch is closed.
func drain(ch <-chan Progress) <-chan []Progress {
	out := make(chan []Progress, 1)
	go func() {
		var got []Progress
		for p := range ch {
			got = append(got, p)
		}
		out <- got
	}()
	return out
}
