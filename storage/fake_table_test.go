package storage

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
)

type fakeRow struct {
	props map[string]any
	etag  azcore.ETag
}

// fakeTable is an in-memory table honouring keys, ETags and merge updates.
type fakeTable struct {
	mu   sync.Mutex
	rows map[string]*fakeRow
	seq  int

	lists        int
	transactions int
	// beforeUpdate runs before each UpdateEntity, outside the lock.
	beforeUpdate func()
	listErr      error
}

func newFakeTable() *fakeTable {
	return &fakeTable{rows: map[string]*fakeRow{}}
}

func rowKey(pk, rk string) string { return pk + "\x00" + rk }

func respErr(status int, code string) error {
	return &azcore.ResponseError{StatusCode: status, ErrorCode: code}
}

func decodeProps(payload []byte) (map[string]any, string, string, error) {
	props := map[string]any{}
	if err := sonic.Unmarshal(payload, &props); err != nil {
		return nil, "", "", err
	}
	pk, _ := props["PartitionKey"].(string)
	rk, _ := props["RowKey"].(string)
	return props, pk, rk, nil
}

func (f *fakeTable) nextETagLocked() azcore.ETag {
	f.seq++
	return azcore.ETag(fmt.Sprintf("W/\"%d\"", f.seq))
}

func (f *fakeTable) encodeLocked(r *fakeRow) []byte {
	data, _ := sonic.Marshal(r.props)
	return data
}

func (f *fakeTable) GetEntity(ctx context.Context, pk, rk string, o *aztables.GetEntityOptions) (aztables.GetEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[rowKey(pk, rk)]
	if !ok {
		return aztables.GetEntityResponse{}, respErr(http.StatusNotFound, "ResourceNotFound")
	}
	return aztables.GetEntityResponse{ETag: r.etag, Value: f.encodeLocked(r)}, nil
}

func (f *fakeTable) AddEntity(ctx context.Context, payload []byte, o *aztables.AddEntityOptions) (aztables.AddEntityResponse, error) {
	props, pk, rk, err := decodeProps(payload)
	if err != nil {
		return aztables.AddEntityResponse{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[rowKey(pk, rk)]; ok {
		return aztables.AddEntityResponse{}, respErr(http.StatusConflict, "EntityAlreadyExists")
	}
	r := &fakeRow{props: props, etag: f.nextETagLocked()}
	f.rows[rowKey(pk, rk)] = r
	return aztables.AddEntityResponse{ETag: r.etag, Value: payload}, nil
}

func (f *fakeTable) UpdateEntity(ctx context.Context, payload []byte, o *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error) {
	if f.beforeUpdate != nil {
		f.beforeUpdate()
	}
	props, pk, rk, err := decodeProps(payload)
	if err != nil {
		return aztables.UpdateEntityResponse{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var ifMatch *azcore.ETag
	replace := false
	if o != nil {
		ifMatch = o.IfMatch
		replace = o.UpdateMode == aztables.UpdateModeReplace
	}
	if err := f.mergeLocked(pk, rk, props, ifMatch, replace); err != nil {
		return aztables.UpdateEntityResponse{}, err
	}
	return aztables.UpdateEntityResponse{ETag: f.rows[rowKey(pk, rk)].etag}, nil
}

func (f *fakeTable) checkLocked(pk, rk string, ifMatch *azcore.ETag) (*fakeRow, error) {
	r, ok := f.rows[rowKey(pk, rk)]
	if !ok {
		return nil, respErr(http.StatusNotFound, "ResourceNotFound")
	}
	if ifMatch != nil && *ifMatch != azcore.ETagAny && *ifMatch != r.etag {
		return nil, respErr(http.StatusPreconditionFailed, "UpdateConditionNotSatisfied")
	}
	return r, nil
}

func (f *fakeTable) mergeLocked(pk, rk string, props map[string]any, ifMatch *azcore.ETag, replace bool) error {
	r, err := f.checkLocked(pk, rk, ifMatch)
	if err != nil {
		return err
	}
	if replace {
		r.props = props
	} else {
		for k, v := range props {
			r.props[k] = v
		}
	}
	r.etag = f.nextETagLocked()
	return nil
}

func (f *fakeTable) DeleteEntity(ctx context.Context, pk, rk string, o *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ifMatch *azcore.ETag
	if o != nil {
		ifMatch = o.IfMatch
	}
	if _, err := f.checkLocked(pk, rk, ifMatch); err != nil {
		return aztables.DeleteEntityResponse{}, err
	}
	delete(f.rows, rowKey(pk, rk))
	return aztables.DeleteEntityResponse{}, nil
}

// NewListEntitiesPager supports only "PartitionKey eq '<pk>'" filters and
// returns rows ordered by key in a single page.
func (f *fakeTable) NewListEntitiesPager(o *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse] {
	pk := ""
	if o != nil && o.Filter != nil {
		pk = strings.TrimSuffix(strings.TrimPrefix(*o.Filter, "PartitionKey eq '"), "'")
		pk = strings.ReplaceAll(pk, "''", "'")
	}
	return runtime.NewPager(runtime.PagingHandler[aztables.ListEntitiesResponse]{
		More: func(aztables.ListEntitiesResponse) bool { return false },
		Fetcher: func(ctx context.Context, _ *aztables.ListEntitiesResponse) (aztables.ListEntitiesResponse, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.lists++
			if f.listErr != nil {
				return aztables.ListEntitiesResponse{}, f.listErr
			}
			keys := make([]string, 0, len(f.rows))
			for k := range f.rows {
				if strings.HasPrefix(k, pk+"\x00") {
					keys = append(keys, k)
				}
			}
			sort.Strings(keys)
			var resp aztables.ListEntitiesResponse
			for _, k := range keys {
				resp.Entities = append(resp.Entities, f.encodeLocked(f.rows[k]))
			}
			return resp, nil
		},
	})
}

func (f *fakeTable) SubmitTransaction(ctx context.Context, actions []aztables.TransactionAction, o *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transactions++
	type op struct {
		pk, rk  string
		props   map[string]any
		ifMatch *azcore.ETag
	}
	ops := make([]op, 0, len(actions))
	for _, a := range actions {
		if a.ActionType != aztables.TransactionTypeUpdateMerge {
			return aztables.TransactionResponse{}, fmt.Errorf("unsupported action %s", a.ActionType)
		}
		props, pk, rk, err := decodeProps(a.Entity)
		if err != nil {
			return aztables.TransactionResponse{}, err
		}
		if _, err := f.checkLocked(pk, rk, a.IfMatch); err != nil {
			return aztables.TransactionResponse{}, err
		}
		ops = append(ops, op{pk, rk, props, a.IfMatch})
	}
	for _, x := range ops {
		if err := f.mergeLocked(x.pk, x.rk, x.props, x.ifMatch, false); err != nil {
			return aztables.TransactionResponse{}, err
		}
	}
	return aztables.TransactionResponse{}, nil
}

func (f *fakeTable) prop(pk, rk, name string) any {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[rowKey(pk, rk)]
	if !ok {
		return nil
	}
	return r.props[name]
}

// touch simulates a concurrent writer by bumping the row's ETag.
func (f *fakeTable) touch(pk, rk string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rows[rowKey(pk, rk)]; ok {
		r.etag = f.nextETagLocked()
	}
}
