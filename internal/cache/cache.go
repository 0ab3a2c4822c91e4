package cache

import (
	"context"
	"time"
)

// DeliveryRecord is the last successful delivery of a job.
type DeliveryRecord struct {
	RemoteMessageID string    `json:"remoteMessageId"`
	DeliveredAt     time.Time `json:"deliveredAt"`
}

type DeliveryCache interface {
	StoreDelivered(ctx context.Context, jobID, remoteMessageID string, deliveredAt time.Time) error
	LastDelivery(ctx context.Context, jobID string) (*DeliveryRecord, error)
}
