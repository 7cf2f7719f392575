package i18n

import "fmt"

// Locale identifiers carried by jobs at creation time. Background work
// never reads an implicit request context.
const (
	LocaleZH = "zh"
	LocaleEN = "en"
)

var catalogs = map[string]map[string]string{
	LocaleEN: {
		"job.cancelled":              "job has been cancelled",
		"job.failed":                 "job failed: %s",
		"job.item_failed":            "item %s failed: %s",
		"finetune.connect_failed":    "connection has failed more than %d times",
		"finetune.stage_unsupported": "only SFT fine-tuning is supported",
		"finetune.deepspeed_needed":  "a DeepSpeed config is required for multi-GPU or multi-machine training",
		"finetune.not_found":         "fine-tune job not found",
		"deploy.not_starting":        "cluster is not in Starting state",
		"deploy.lora_busy":           "adapter is deploying or running and cannot be deleted",
	},
	LocaleZH: {
		"job.cancelled":              "任务已取消",
		"job.failed":                 "任务失败: %s",
		"job.item_failed":            "条目 %s 处理失败: %s",
		"finetune.connect_failed":    "连接失败已超过 %d 次",
		"finetune.stage_unsupported": "目前仅支持 SFT 微调",
		"finetune.deepspeed_needed":  "多卡或多机训练需要配置 DeepSpeed",
		"finetune.not_found":         "微调任务不存在",
		"deploy.not_starting":        "集群未处于运行状态",
		"deploy.lora_busy":           "适配器正在部署或运行中，无法删除",
	},
}

// T resolves a message for the locale, falling back to English, then to
// the key itself.
func T(locale, key string, args ...interface{}) string {
	catalog, ok := catalogs[locale]
	if !ok {
		catalog = catalogs[LocaleEN]
	}
	format, ok := catalog[key]
	if !ok {
		format, ok = catalogs[LocaleEN][key]
		if !ok {
			return key
		}
	}
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
