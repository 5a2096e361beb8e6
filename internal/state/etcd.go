package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const launchesPrefix = "/ec2launch/launches/"

// EtcdStore keeps launch records in etcd, one key per client token.
type EtcdStore struct {
	client *clientv3.Client
}

// NewEtcdStore connects to the given endpoints.
func NewEtcdStore(endpoints []string) (*EtcdStore, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return &EtcdStore{client: cli}, nil
}

// Save inserts or replaces the record, keeping the original creation time.
func (s *EtcdStore) Save(ctx context.Context, record Record) error {
	key := launchesPrefix + record.ClientToken
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
		if resp, err := s.client.Get(ctx, key); err == nil && len(resp.Kvs) > 0 {
			var existing Record
			if json.Unmarshal(resp.Kvs[0].Value, &existing) == nil && !existing.CreatedAt.IsZero() {
				record.CreatedAt = existing.CreatedAt
			}
		}
	}
	record.UpdatedAt = now

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal launch record: %w", err)
	}
	if _, err := s.client.Put(ctx, key, string(data)); err != nil {
		return fmt.Errorf("failed to save launch record to etcd: %w", err)
	}
	return nil
}

// List returns all records, oldest first.
func (s *EtcdStore) List(ctx context.Context) ([]Record, error) {
	resp, err := s.client.Get(ctx, launchesPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list launch records from etcd: %w", err)
	}
	records := make([]Record, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var r Record
		if err := json.Unmarshal(kv.Value, &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal launch record %s: %w", kv.Key, err)
		}
		records = append(records, r)
	}
	sortRecords(records)
	return records, nil
}

// Close closes the etcd client
func (s *EtcdStore) Close() error {
	return s.client.Close()
}
