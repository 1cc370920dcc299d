package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"boardsync/domain"
)

const edmInt64 = "Edm.Int64"

// itemEntity is the Azure Table representation of an item. PartitionKey is
// the scope so one board stays in one partition; RowKey is the item id.
type itemEntity struct {
	PartitionKey    string `json:"PartitionKey"`
	RowKey          string `json:"RowKey"`
	Bucket          string `json:"Bucket"`
	Position        int64  `json:"Position,string"`
	PositionType    string `json:"Position@odata.type"`
	Title           string `json:"Title"`
	Description     string `json:"Description,omitempty"`
	Priority        string `json:"Priority"`
	Assignee        string `json:"Assignee,omitempty"`
	DueDate         string `json:"DueDate,omitempty"`
	CreatedBy       string `json:"CreatedBy,omitempty"`
	CreatedAt       int64  `json:"CreatedAt,string"`
	CreatedAtType   string `json:"CreatedAt@odata.type"`
	ItemVersion     int64  `json:"ItemVersion,string"`
	ItemVersionType string `json:"ItemVersion@odata.type"`
}

func toEntity(it domain.Item) itemEntity {
	return itemEntity{
		PartitionKey:    it.Scope,
		RowKey:          it.ID,
		Bucket:          string(it.Bucket),
		Position:        it.Position,
		PositionType:    edmInt64,
		Title:           it.Title,
		Description:     it.Description,
		Priority:        string(it.Priority),
		Assignee:        it.Assignee,
		DueDate:         it.DueDate,
		CreatedBy:       it.CreatedBy,
		CreatedAt:       it.CreatedAt,
		CreatedAtType:   edmInt64,
		ItemVersion:     it.Version,
		ItemVersionType: edmInt64,
	}
}

func (e itemEntity) toItem() domain.Item {
	return domain.Item{
		ID:          e.RowKey,
		Scope:       e.PartitionKey,
		Bucket:      domain.Bucket(e.Bucket),
		Position:    e.Position,
		Title:       e.Title,
		Description: e.Description,
		Priority:    domain.Priority(e.Priority),
		Assignee:    e.Assignee,
		DueDate:     e.DueDate,
		CreatedBy:   e.CreatedBy,
		CreatedAt:   e.CreatedAt,
		Version:     e.ItemVersion,
	}
}

// TableBackend persists items in Azure Table Storage. AddEntity gives the
// atomic insert; UpdateEntity with an ETag precondition gives the
// update-iff-version-matches primitive.
type TableBackend struct {
	table *aztables.Client
}

// NewTableBackend creates a backend from a storage connection string.
func NewTableBackend(connStr, itemsTable string) (*TableBackend, error) {
	opts := aztables.ClientOptions{
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
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &TableBackend{table: svc.NewClient(itemsTable)}, nil
}

func (b *TableBackend) InsertItem(ctx context.Context, it domain.Item) error {
	payload, err := json.Marshal(toEntity(it))
	if err != nil {
		return err
	}
	if _, err := b.table.AddEntity(ctx, payload, nil); err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 409 {
			return fmt.Errorf("item %s: %w", it.ID, ErrCASMismatch)
		}
		return err
	}
	return nil
}

func (b *TableBackend) UpdateItem(ctx context.Context, it domain.Item, ifVersion int64) error {
	resp, err := b.table.GetEntity(ctx, it.Scope, it.ID, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 404 {
			return domain.ErrNotFound
		}
		return err
	}
	var cur itemEntity
	if err := json.Unmarshal(resp.Value, &cur); err != nil {
		return err
	}
	if cur.ItemVersion != ifVersion {
		return ErrCASMismatch
	}
	payload, err := json.Marshal(toEntity(it))
	if err != nil {
		return err
	}
	etag := resp.ETag
	_, err = b.table.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{
		IfMatch:    &etag,
		UpdateMode: aztables.UpdateModeReplace,
	})
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) {
			switch respErr.StatusCode {
			case 404:
				return domain.ErrNotFound
			case 412:
				return ErrCASMismatch
			}
		}
		return err
	}
	return nil
}

func (b *TableBackend) DeleteItem(ctx context.Context, scope, id string) error {
	if _, err := b.table.DeleteEntity(ctx, scope, id, nil); err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 404 {
			return domain.ErrNotFound
		}
		return err
	}
	return nil
}

func (b *TableBackend) GetItem(ctx context.Context, scope, id string) (domain.Item, error) {
	resp, err := b.table.GetEntity(ctx, scope, id, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 404 {
			return domain.Item{}, domain.ErrNotFound
		}
		return domain.Item{}, err
	}
	var ent itemEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return domain.Item{}, err
	}
	return ent.toItem(), nil
}

func (b *TableBackend) ListItems(ctx context.Context, scope string) ([]domain.Item, error) {
	filter := "PartitionKey eq '" + scope + "'"
	pager := b.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	items := []domain.Item{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent itemEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			items = append(items, ent.toItem())
		}
	}
	return items, nil
}
