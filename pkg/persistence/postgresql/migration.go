package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Create dataflows table
			CREATE TABLE dataflows (
				name VARCHAR(255) PRIMARY KEY,
				description TEXT NOT NULL DEFAULT '',
				target_data VARCHAR(255) NOT NULL,
				resolution_specs JSONB NOT NULL DEFAULT '{}',
				transients JSONB NOT NULL DEFAULT '[]',
				enabled BOOLEAN NOT NULL DEFAULT true,
				looping_enabled BOOLEAN NOT NULL DEFAULT true,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_dataflows_target_data ON dataflows(target_data);
			CREATE INDEX idx_dataflows_enabled ON dataflows(enabled);
		`,
	}
}
