package models

import (
	"time"

	"gorm.io/datatypes"
)

// User 用户主表
// 资料字段只保留匹配算法需要的部分，聊天/通话等子系统不在本服务范围内
type User struct {
	ID              uint64          `gorm:"primaryKey;autoIncrement"`
	Nickname        string          `gorm:"type:varchar(100);not null"`
	Gender          string          `gorm:"type:varchar(10)"`
	BirthDate       *datatypes.Date `gorm:"type:date"`
	MBTI            string          `gorm:"type:varchar(4);index:idx_users_mbti"`
	InterestsJSON   datatypes.JSON  `gorm:"type:json"` // 兴趣标签数组，例如 ["hiking","jazz"]
	AvatarObjectKey string          `gorm:"type:varchar(1024)"`
	AccessToken     string          `gorm:"type:varchar(255);uniqueIndex:idx_users_access_token"`
	IsActive        bool            `gorm:"default:true;index:idx_users_is_active"`
	CreatedAt       time.Time       `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt       time.Time       `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (User) TableName() string {
	return "users"
}

// Age 根据出生日期推算年龄，未填写出生日期时返回0
func (u *User) Age(now time.Time) int {
	if u.BirthDate == nil {
		return 0
	}
	birth := time.Time(*u.BirthDate)
	age := now.Year() - birth.Year()
	if now.YearDay() < birth.YearDay() {
		age--
	}
	if age < 0 {
		return 0
	}
	return age
}

// Like 点赞记录表
// 不在User上维护反向集合，相关查询一律走显式join/子查询
type Like struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	FromUserID uint64    `gorm:"not null;index:idx_likes_from_to,priority:1;uniqueIndex:idx_likes_from_to_unique,priority:1"`
	ToUserID   uint64    `gorm:"not null;index:idx_likes_from_to,priority:2;uniqueIndex:idx_likes_from_to_unique,priority:2"`
	CreatedAt  time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
}

func (Like) TableName() string {
	return "likes"
}

// Report 举报记录表
type Report struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement"`
	ReporterUserID uint64    `gorm:"not null;index:idx_reports_reporter"`
	ReportedUserID uint64    `gorm:"not null;index:idx_reports_reported"`
	Reason         string    `gorm:"type:varchar(100)"`
	Detail         string    `gorm:"type:text"`
	CreatedAt      time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
}

func (Report) TableName() string {
	return "reports"
}

// MatchingRequest 匹配请求表，记录请求的完整生命周期
// 行只由编排器(创建)和消费者(状态/结果更新)写入，本服务不做删除
type MatchingRequest struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	RequestID string `gorm:"type:char(36);not null;uniqueIndex:idx_mr_request_id"` // 对外可见的关联令牌
	UserID    uint64 `gorm:"not null;index:idx_mr_user_id"`
	Status    string `gorm:"type:varchar(20);default:'PENDING';not null;index:idx_mr_status"`

	// 终态前保持NULL
	CandidatesCount  *int       `gorm:"type:int"`
	MatchedCount     *int       `gorm:"type:int"`
	ProcessingTimeMs *int64     `gorm:"type:bigint"` // 算法调用的墙钟耗时，仅COMPLETED时有值
	ProcessedAt      *time.Time `gorm:"type:datetime(6)"`

	CreatedAt time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (MatchingRequest) TableName() string {
	return "matching_requests"
}
