package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				organization_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				nodes JSONB NOT NULL DEFAULT '[]',
				edges JSONB NOT NULL DEFAULT '[]',
				enabled BOOLEAN NOT NULL DEFAULT false,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_organization_enabled ON workflows(organization_id, enabled);
			CREATE INDEX idx_workflows_created_at ON workflows(created_at);
		`,
		2: `
			CREATE TABLE workflow_executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'running', 'success', 'error')),
				triggered_by JSONB NOT NULL DEFAULT '{}',
				trigger_input JSONB,
				logs JSONB NOT NULL DEFAULT '[]',
				error TEXT NOT NULL DEFAULT '',
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflow_executions_workflow_id ON workflow_executions(workflow_id, started_at DESC);
			CREATE INDEX idx_workflow_executions_status ON workflow_executions(status);
		`,
		3: `
			CREATE TABLE step_checkpoints (
				execution_id VARCHAR(255) NOT NULL,
				step_id VARCHAR(255) NOT NULL,
				output JSONB,
				attempts INTEGER NOT NULL DEFAULT 1,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (execution_id, step_id)
			);
		`,
		4: `
			ALTER TABLE workflow_executions
				ADD COLUMN workflow_snapshot JSONB,
				ADD COLUMN idempotency_key VARCHAR(512),
				ADD COLUMN lease_owner VARCHAR(255) NOT NULL DEFAULT '',
				ADD COLUMN lease_until TIMESTAMP WITH TIME ZONE,
				ADD COLUMN updated_at TIMESTAMP WITH TIME ZONE;

			UPDATE workflow_executions SET updated_at = COALESCE(completed_at, started_at);
			ALTER TABLE workflow_executions ALTER COLUMN updated_at SET NOT NULL;

			CREATE UNIQUE INDEX idx_workflow_executions_idempotency_key
				ON workflow_executions(idempotency_key)
				WHERE idempotency_key IS NOT NULL;
		`,
	}
}
