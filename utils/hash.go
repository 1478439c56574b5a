package utils

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// PrimaryKey 由文本内容确定性生成主键，相同文本重复导入时覆盖写入
func PrimaryKey(text string) string {
	sum := blake2b.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
