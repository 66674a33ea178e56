package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// 不参与摘要计算的字段
var excludeFields = []string{
	"digest",
	"create_time",
	"update_time",
}

// ConfigDigest 计算配置对象的摘要，用于检测并发修改。
// 只包含业务字段，map 序列化时 key 已有序。
func ConfigDigest(obj interface{}) (string, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return "", err
	}

	var objMap map[string]interface{}
	if err := json.Unmarshal(data, &objMap); err != nil {
		return "", err
	}
	for _, field := range excludeFields {
		delete(objMap, field)
	}

	cleanData, err := json.Marshal(objMap)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(cleanData)
	return hex.EncodeToString(sum[:]), nil
}
