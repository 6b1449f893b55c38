/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpapi

import (
	"encoding/json"
)

// SubmitTransactionRequest is the ingress payload of POST /v1/transactions/submit.
// TransactionData is opaque to the service and stored as-is.
type SubmitTransactionRequest struct {
	AccountID       string          `json:"account_id"`
	TransactionData json.RawMessage `json:"transaction_data"`
	Priority        *int            `json:"priority"` // optional, default 0
}

// SubmitTransactionResponse is the synchronous success envelope.
type SubmitTransactionResponse struct {
	TransactionID                  string `json:"transaction_id"`
	QueuePosition                  int64  `json:"queue_position"`
	EstimatedProcessingTimeSeconds int64  `json:"estimated_processing_time_seconds"`
	Status                         string `json:"status"`
}
