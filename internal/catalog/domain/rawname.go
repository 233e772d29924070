package domain

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ParsedName 从价格表原始名称解析出的展示字段
type ParsedName struct {
	Brand       string
	ProductName string
	Category    string
	VolumeValue decimal.NullDecimal
	VolumeUnit  string
	Gender      string
}

var (
	volumeRe       = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(мл|ml|гр|г|g)`)
	trailVolumeRe  = regexp.MustCompile(`(?i)[ ,]*\d+(?:[.,]\d+)?\s*(мл|ml|гр|г|g)$`)
	leadingDigits  = regexp.MustCompile(`^[0-9]+\s*`)
	leadingNonWord = regexp.MustCompile(`^[^A-Za-zА-Яа-яЁё]+`)
	cyrillicRe     = regexp.MustCompile(`(?i)[а-яё]`)
	trailJunkRe    = regexp.MustCompile(`[ \t,.]+$`)
)

var genderMarkers = []string{"женский", "мужской", "унисекс"}

// categoryKeywords 按顺序匹配，较长的关键词在前
var categoryKeywords = []struct {
	keyword  string
	category string
}{
	{"шампунь против перхоти", "Уход за волосами"},
	{"парфюмированная вода", "Парфюм"},
	{"туалетная вода", "Парфюм"},
	{"духи", "Парфюм"},
	{"шампунь", "Уход за волосами"},
	{"маска для волос", "Уход за волосами"},
	{"спрей для волос", "Уход за волосами"},
	{"губная помада", "Декоративная косметика"},
	{"тональный крем", "Декоративная косметика"},
	{"пудра", "Декоративная косметика"},
	{"сыворотка для лица", "Уход за кожей"},
	{"сыворотка для глаз", "Уход за кожей"},
	{"крем для лица", "Уход за кожей"},
}

// ParseRawName 解析原始名称里的品牌、名称、分类、容量与性别。
// 不改写 raw 本身；解析不出的字段留空。
func ParseRawName(raw string) ParsedName {
	var parsed ParsedName
	if strings.TrimSpace(raw) == "" {
		return parsed
	}

	norm := strings.Join(strings.Fields(raw), " ")
	low := strings.ToLower(norm)

	volMatch := volumeRe.FindStringSubmatch(norm)
	if volMatch != nil {
		if v, err := decimal.NewFromString(strings.ReplaceAll(volMatch[1], ",", ".")); err == nil {
			parsed.VolumeValue = decimal.NewNullDecimal(v)
		}
		switch strings.ToLower(volMatch[2]) {
		case "мл", "ml":
			parsed.VolumeUnit = "мл"
		case "г", "гр", "g":
			parsed.VolumeUnit = "г"
		}
	}

	switch {
	case strings.Contains(low, "жен"):
		parsed.Gender = "F"
	case strings.Contains(low, "муж"):
		parsed.Gender = "M"
	case strings.Contains(low, "унис"):
		parsed.Gender = "U"
	}

	for _, kw := range categoryKeywords {
		if strings.Contains(low, kw.keyword) {
			parsed.Category = kw.category
			break
		}
	}

	parsed.Brand = detectBrand(norm)

	part := norm
	if strings.Contains(norm, ">") {
		segments := splitSegments(norm)
		if len(segments) > 0 {
			part = segments[len(segments)-1]
		}
	}
	if parsed.Brand != "" && strings.HasPrefix(strings.ToLower(part), strings.ToLower(parsed.Brand)) {
		part = strings.TrimSpace(part[len(parsed.Brand):])
	}
	if volMatch != nil {
		part = trailVolumeRe.ReplaceAllString(part, "")
	}
	part = trailJunkRe.ReplaceAllString(part, "")
	partLow := strings.ToLower(part)
	for _, marker := range genderMarkers {
		if idx := strings.Index(partLow, marker); idx >= 0 {
			part = part[:idx] + part[idx+len(marker):]
			partLow = strings.ToLower(part)
		}
	}
	part = strings.Join(strings.Fields(part), " ")
	if part == "" {
		part = norm
	}
	parsed.ProductName = part

	return parsed
}

// detectBrand 提取品牌：层级名称取第一段，否则取开头连续的拉丁字母词
func detectBrand(text string) string {
	if strings.Contains(text, ">") {
		segments := splitSegments(text)
		if len(segments) > 0 {
			seg := leadingDigits.ReplaceAllString(segments[0], "")
			seg = leadingNonWord.ReplaceAllString(seg, "")
			fields := strings.Fields(seg)
			if len(fields) > 0 {
				return titleToken(fields[0])
			}
			return ""
		}
	}

	tokens := strings.Fields(text)
	var brandTokens []string
	started := false
	for _, tok := range tokens {
		if !started && isDigits(tok) {
			continue
		}
		started = true
		if cyrillicRe.MatchString(tok) {
			break
		}
		lower := strings.ToLower(tok)
		if lower == "женский" || lower == "мужской" || lower == "унисекс" {
			break
		}
		brandTokens = append(brandTokens, tok)
	}
	if len(brandTokens) > 0 {
		return strings.Join(brandTokens, " ")
	}
	if len(tokens) > 0 {
		return tokens[0]
	}
	return ""
}

func splitSegments(text string) []string {
	var segments []string
	for _, seg := range strings.Split(text, ">") {
		if s := strings.TrimSpace(seg); s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func titleToken(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(strings.ToLower(s))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
