package store

// StoreType 存储类型
type StoreType string

const (
	// StoreTypeMemory 内存存储
	StoreTypeMemory StoreType = "memory"
	// StoreTypeSQLite SQLite 存储
	StoreTypeSQLite StoreType = "sqlite"
	// StoreTypeNeo4j Neo4j 审计存储（仅 RunStore）
	StoreTypeNeo4j StoreType = "neo4j"
)

// Config 存储配置
type Config struct {
	// Type 存储类型
	Type StoreType `koanf:"type"`
	// SQLitePath SQLite 数据库路径
	SQLitePath string `koanf:"sqlite_path"`
	// Neo4jURI Neo4j 连接 URI
	Neo4jURI string `koanf:"neo4j_uri"`
	// Neo4jUsername Neo4j 用户名
	Neo4jUsername string `koanf:"neo4j_username"`
	// Neo4jPassword Neo4j 密码
	Neo4jPassword string `koanf:"neo4j_password"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Type:       StoreTypeMemory,
		SQLitePath: "./steward_data/steward.db",
		Neo4jURI:   "bolt://localhost:7687",
	}
}

// NewProfileStore 根据配置创建档案存储
func NewProfileStore(config *Config) (ProfileStore, error) {
	if config == nil {
		config = DefaultConfig()
	}

	switch config.Type {
	case StoreTypeSQLite:
		return NewSQLiteStore(config.SQLitePath)
	case StoreTypeMemory:
		fallthrough
	default:
		return NewMemoryStore(), nil
	}
}

// NewRunStore 根据配置创建审计存储
func NewRunStore(config *Config) (RunStore, error) {
	if config == nil {
		config = DefaultConfig()
	}

	switch config.Type {
	case StoreTypeSQLite:
		return NewSQLiteStore(config.SQLitePath)
	case StoreTypeNeo4j:
		return NewNeo4jAuditStore(Neo4jConfig{
			URI:      config.Neo4jURI,
			Username: config.Neo4jUsername,
			Password: config.Neo4jPassword,
		})
	case StoreTypeMemory:
		fallthrough
	default:
		return NewMemoryStore(), nil
	}
}
