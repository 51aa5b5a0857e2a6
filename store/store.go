package store

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// ErrDuplicateRecord 同一 (会话, 天, 类型, 行动者) 的记录已存在
var ErrDuplicateRecord = errors.New("重复的历史记录")

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
