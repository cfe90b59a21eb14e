package app

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"banana-mall/internal/model"
	"banana-mall/internal/store"
)

var (
	ErrUnknownSetting = errors.New("unknown setting")
	ErrInvalidValue   = errors.New("invalid value")
)

// SettingKeys lists the keys ParseSetting understands, in display order.
var SettingKeys = []string{
	"platform", "style", "model", "language", "main", "detail",
	"brand", "extra", "theme", "apikey", "baseurl", "exportpath",
}

// ParseSetting turns a user-typed key and value into a settings patch.
// Free-text settings accept an empty value to clear them.
func ParseSetting(key, value string) (store.SettingsPatch, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	value = strings.TrimSpace(value)

	var p store.SettingsPatch
	switch key {
	case "platform":
		v, ok := model.ParsePlatform(value)
		if !ok {
			return p, invalid(key, value, "amazon, taobao, jd")
		}
		p.DefaultPlatform = &v
	case "style":
		v, ok := model.ParseStyle(value)
		if !ok {
			return p, invalid(key, value, "minimal, cyber, chinese")
		}
		p.DefaultStyle = &v
	case "model":
		v, ok := model.ParseModel(value)
		if !ok {
			return p, invalid(key, value, "nanobanana, nanabanana")
		}
		p.SelectedModel = &v
	case "language", "lang":
		v, ok := model.ParseLanguage(value)
		if !ok {
			return p, invalid(key, value, "zh, en")
		}
		p.SelectedLanguage = &v
	case "theme":
		v, ok := model.ParseTheme(value)
		if !ok {
			return p, invalid(key, value, "light, dark, system")
		}
		p.Theme = &v
	case "main", "detail":
		n, err := strconv.Atoi(value)
		if err != nil {
			return p, invalid(key, value, "a number")
		}
		if key == "main" {
			p.MainImageCount = &n
		} else {
			p.DetailImageCount = &n
		}
	case "brand":
		p.BrandName = &value
	case "extra":
		p.ExtraInfo = &value
	case "apikey":
		p.APIKey = &value
	case "baseurl":
		p.BaseURL = &value
	case "exportpath":
		p.ExportPath = &value
	default:
		return p, fmt.Errorf("%w %q (known: %s)", ErrUnknownSetting, key, strings.Join(SettingKeys, ", "))
	}
	return p, nil
}

func invalid(key, value, want string) error {
	return fmt.Errorf("%w for %s: %q (want %s)", ErrInvalidValue, key, value, want)
}

// MaskKey hides all but the last four characters of a credential.
func MaskKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
