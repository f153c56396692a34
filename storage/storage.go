// Package storage persists tasks, pomodoro sessions and user profiles in
// Azure Table Storage and publishes events to an Azure queue.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	log "github.com/sirupsen/logrus"

	"mind-ease/domain"
	"mind-ease/pomodoro"
	"mind-ease/tasks"
	"mind-ease/userinfo"
)

// table is the subset of *aztables.Client used by Tables.
type table interface {
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
	NewListEntitiesPager(options *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
	SubmitTransaction(ctx context.Context, actions []aztables.TransactionAction, options *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error)
}

// Tables is the remote store for every per-user collection. Rows are
// partitioned by user id.
type Tables struct {
	taskTable    table
	sessionTable table
	userTable    table
	now          func() time.Time
}

var (
	_ tasks.Persistence    = (*Tables)(nil)
	_ pomodoro.Sessions    = (*Tables)(nil)
	_ userinfo.Persistence = (*Tables)(nil)
)

// TableNames names the tables backing each collection.
type TableNames struct {
	Tasks    string
	Sessions string
	Users    string
}

func tableClientOptions() *aztables.ClientOptions {
	return &aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
}

// New creates Tables from the given connection string.
func New(connStr string, names TableNames) (*Tables, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, tableClientOptions())
	if err != nil {
		return nil, err
	}
	return &Tables{
		taskTable:    svc.NewClient(names.Tasks),
		sessionTable: svc.NewClient(names.Sessions),
		userTable:    svc.NewClient(names.Users),
		now:          time.Now,
	}, nil
}

func partitionFilter(userID string) string {
	return "PartitionKey eq '" + strings.ReplaceAll(userID, "'", "''") + "'"
}

func listPartition[T any](ctx context.Context, t table, userID string, decode func([]byte) (T, error)) ([]T, error) {
	filter := partitionFilter(userID)
	pager := t.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	out := []T{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			v, err := decode(e)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
	}
	return out, nil
}

func statusCode(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

// mapErr translates table status codes into domain errors.
func mapErr(err error, notFound error) error {
	if err == nil {
		return nil
	}
	switch statusCode(err) {
	case http.StatusNotFound:
		if notFound != nil {
			return fmt.Errorf("%w: %w", notFound, err)
		}
	case http.StatusPreconditionFailed:
		return fmt.Errorf("%w: %w", domain.ErrConcurrencyConflict, err)
	}
	return err
}

// merge writes a partial entity over an existing row.
func merge(ctx context.Context, t table, payload []byte, etag azcore.ETag) error {
	_, err := t.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeMerge})
	return err
}

func logger(ctx context.Context) *log.Entry {
	return log.WithContext(ctx).WithField("component", "storage")
}
