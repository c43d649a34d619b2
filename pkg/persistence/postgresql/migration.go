package postgresql

// migrations returns the schema migrations, keyed by version.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflows (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				version INTEGER NOT NULL DEFAULT 1,
				is_active BOOLEAN NOT NULL DEFAULT TRUE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE TABLE IF NOT EXISTS workflow_steps (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				step_type VARCHAR(32) NOT NULL,
				step_order INTEGER NOT NULL,
				label VARCHAR(255) NOT NULL,
				config JSONB,
				validation_rules JSONB,
				execution_mode VARCHAR(32) NOT NULL,
				trigger_timing VARCHAR(16),
				trigger_endpoint VARCHAR(255) NOT NULL DEFAULT '',
				timeout_ms INTEGER NOT NULL DEFAULT 0,
				retry_config JSONB,
				is_active BOOLEAN NOT NULL DEFAULT TRUE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				UNIQUE (workflow_id, step_order)
			);

			CREATE INDEX IF NOT EXISTS idx_workflow_steps_workflow
				ON workflow_steps(workflow_id, step_order);

			CREATE TABLE IF NOT EXISTS workflow_executions (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL REFERENCES workflows(id),
				user_id VARCHAR(255) NOT NULL,
				session_id VARCHAR(255) NOT NULL,
				current_step_id UUID,
				status VARCHAR(16) NOT NULL,
				context JSONB,
				final_result JSONB,
				error TEXT NOT NULL DEFAULT '',
				started_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE UNIQUE INDEX IF NOT EXISTS idx_executions_active_session
				ON workflow_executions(session_id)
				WHERE status IN ('PENDING', 'IN_PROGRESS');

			CREATE TABLE IF NOT EXISTS transactions (
				id UUID PRIMARY KEY,
				reference VARCHAR(64) NOT NULL UNIQUE,
				txn_type VARCHAR(32) NOT NULL,
				source VARCHAR(64) NOT NULL DEFAULT '',
				status VARCHAR(20) NOT NULL,
				amount NUMERIC(20, 4) NOT NULL,
				currency CHAR(3) NOT NULL,
				from_ref VARCHAR(64) NOT NULL DEFAULT '',
				to_ref VARCHAR(64) NOT NULL DEFAULT '',
				external_reference VARCHAR(128) NOT NULL DEFAULT '',
				raw_response TEXT NOT NULL DEFAULT '',
				retry_count INTEGER NOT NULL DEFAULT 0,
				max_retries INTEGER NOT NULL DEFAULT 5,
				next_retry_at TIMESTAMP WITH TIME ZONE,
				error_message TEXT NOT NULL DEFAULT '',
				error_code VARCHAR(64) NOT NULL DEFAULT '',
				is_reversal BOOLEAN NOT NULL DEFAULT FALSE,
				reversal_of UUID,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_transactions_retry
				ON transactions(status, next_retry_at)
				WHERE status = 'FAILED';

			CREATE TABLE IF NOT EXISTS transaction_status_history (
				id UUID PRIMARY KEY,
				transaction_id UUID NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
				from_status VARCHAR(20),
				to_status VARCHAR(20) NOT NULL,
				reason TEXT NOT NULL DEFAULT '',
				retry_number INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_status_history_transaction
				ON transaction_status_history(transaction_id, created_at);
		`,
	}
}
