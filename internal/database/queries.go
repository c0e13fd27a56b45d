/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

const (
	transferColumns = `id, reference, wallet_id, source_chain, destination_chain, destination_address,
		amount, speed_tier, state, burn_request_id, burn_hash, attestation_hash, mint_request_id, mint_hash,
		fee_quoted, fee_total, fee_review, error_code, error_message, stuck, version,
		initiated_at, burn_confirmed_at, attestation_received_at, completed_at, updated_at`

	queryInsertTransfer = `
		INSERT INTO transfers (id, reference, wallet_id, source_chain, destination_chain,
			destination_address, amount, speed_tier, state, fee_quoted, version, initiated_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`

	queryGetTransferById = `
		SELECT ` + transferColumns + `
		FROM transfers
		WHERE id = ?`

	queryGetTransferByReference = `
		SELECT ` + transferColumns + `
		FROM transfers
		WHERE reference = ?`

	queryListActiveTransfers = `
		SELECT ` + transferColumns + `
		FROM transfers
		WHERE state NOT IN ('COMPLETE', 'FAILED', 'CANCELLED')
		ORDER BY initiated_at ASC`

	queryInsertTransferEvent = `
		INSERT INTO transfer_events (id, transfer_id, from_state, to_state, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	queryGetTransferEvents = `
		SELECT id, transfer_id, from_state, to_state, detail, created_at
		FROM transfer_events
		WHERE transfer_id = ?
		ORDER BY created_at ASC, id ASC`

	queryInsertWalletTransaction = `
		INSERT INTO wallet_transactions (id, provider_tx_id, reference, wallet_id, direction, kind, chain, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryInsertTransactionLeg = `
		INSERT INTO wallet_transaction_legs (id, transaction_id, amount, detail, created_at)
		VALUES (?, ?, ?, ?, ?)`

	queryInsertTransactionEvent = `
		INSERT INTO wallet_transaction_events (id, transaction_id, state, provider_state, created_at)
		VALUES (?, ?, ?, ?, ?)`

	queryUpdateTransactionState = `
		UPDATE wallet_transactions SET state = ? WHERE id = ?`

	walletTransactionColumns = `id, provider_tx_id, reference, wallet_id, direction, kind, chain, state, created_at`

	queryGetWalletTransactionById = `
		SELECT ` + walletTransactionColumns + `
		FROM wallet_transactions
		WHERE id = ?`

	queryGetWalletTransactionByProviderId = `
		SELECT ` + walletTransactionColumns + `
		FROM wallet_transactions
		WHERE provider_tx_id = ?`

	queryListWalletTransactions = `
		SELECT ` + walletTransactionColumns + `
		FROM wallet_transactions
		WHERE wallet_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`

	queryGetTransactionLegs = `
		SELECT id, transaction_id, amount, detail, created_at
		FROM wallet_transaction_legs
		WHERE transaction_id = ?
		ORDER BY created_at ASC, id ASC`

	queryGetTransactionEvents = `
		SELECT id, transaction_id, state, provider_state, created_at
		FROM wallet_transaction_events
		WHERE transaction_id = ?
		ORDER BY created_at ASC, id ASC`

	// Balance folding pulls every leg with the owning row's direction and state;
	// decimal arithmetic happens in Go to avoid SQLite float coercion.
	queryListLegsForBalance = `
		SELECT t.direction, t.state, l.amount
		FROM wallet_transactions t
		JOIN wallet_transaction_legs l ON l.transaction_id = t.id
		WHERE t.wallet_id = ?`
)
