package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// CacheFields 提供 namespace/key 字段，供缓存维护类日志复用。
func CacheFields(action, namespace, key string) logrus.Fields {
	fields := logrus.Fields{
		"action":    action,
		"namespace": namespace,
	}
	if key != "" {
		fields["key"] = key
	}
	return fields
}

// RequestFields 提供请求 ID、源地址与命中状态字段，供图片请求日志复用。
func RequestFields(requestID, sourceURL, key, namespace string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"request_id": requestID,
		"url":        sourceURL,
		"key":        key,
		"namespace":  namespace,
		"cache_hit":  cacheHit,
	}
}
