package constants

import "time"

// Redis Key 前缀和格式常量
// 使用统一的命名规范: app:{module}:{entity}:{unique_id}
const (
	// AppPrefix 是所有Redis Key的统一应用前缀
	AppPrefix = "app"

	// QueryModulePrefix 问答模块
	QueryModulePrefix = "query"
	// FileModulePrefix 文件模块
	FileModulePrefix = "file"
	// DocumentModulePrefix 文档模块
	DocumentModulePrefix = "document"

	// EntityRecord 记录实体
	EntityRecord = "record"
	// EntityLock 分布式锁实体
	EntityLock = "lock"
	// EntityDedupSet 去重集合实体
	EntityDedupSet = "dedup_set"
	// EntityMD5ToUUID MD5到文档ID的映射实体
	EntityMD5ToUUID = "md5_to_uuid"

	// KeyQueryRecord 问答记录 (STRING, JSON)
	// 格式: app:query:record:{queryID}
	KeyQueryRecord = AppPrefix + ":" + QueryModulePrefix + ":" + EntityRecord + ":%s"

	// KeyFileMD5Set 文件MD5集合，用于快速去重 (SET)
	// 格式: app:file:dedup_set
	KeyFileMD5Set = AppPrefix + ":" + FileModulePrefix + ":" + EntityDedupSet

	// KeyFileMD5ToDocumentID MD5到文档ID的映射 (STRING)
	// 格式: app:file:md5_to_uuid:{md5}
	KeyFileMD5ToDocumentID = AppPrefix + ":" + FileModulePrefix + ":" + EntityMD5ToUUID + ":%s"

	// KeyDocumentProcessLock 文档处理锁，防止重复投递的消息被并发处理 (STRING)
	// 格式: app:document:lock:{documentID}
	KeyDocumentProcessLock = AppPrefix + ":" + DocumentModulePrefix + ":" + EntityLock + ":%s"
)

const (
	// DefaultQueryTTL 问答记录保留时间
	DefaultQueryTTL = time.Hour
	// DocumentProcessLockTTL 文档处理锁的超时时间
	DocumentProcessLockTTL = 5 * time.Minute
)
