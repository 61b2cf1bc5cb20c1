package corpus

import (
	"regexp"
	"strconv"
	"strings"
)

// 法分野タグ
const (
	DomainConstitutional = "droit_constitutionnel"
	DomainPublic         = "droit_public"
	DomainAdministrative = "droit_administratif"
	DomainCivil          = "droit_civil"
	DomainTenancy        = "droit_bail"
	DomainCriminal       = "droit_penal"
	DomainEducation      = "droit_education"
	DomainDefense        = "droit_defense"
	DomainFinance        = "droit_finances"
	DomainPlanning       = "droit_amenagement"
	DomainSocial         = "droit_social"
	DomainEconomy        = "droit_economie"
	DomainFiscal         = "droit_fiscal"
	DomainOther          = "autre"
)

// DomainFromRS は体系的法令集（RS/SR）番号の先頭区分から法分野を推定する
func DomainFromRS(rs string) string {
	rs = strings.TrimSpace(rs)
	if rs == "" {
		return DomainOther
	}
	head, _, _ := strings.Cut(rs, ".")
	main, err := strconv.Atoi(head)
	if err != nil {
		return DomainOther
	}

	switch {
	case main < 200:
		return DomainConstitutional
	case main < 300:
		return DomainCivil
	case main < 400:
		return DomainCriminal
	case main < 500:
		return DomainEducation
	case main < 600:
		return DomainDefense
	case main < 700:
		return DomainFinance
	case main < 800:
		return DomainPlanning
	case main < 900:
		return DomainSocial
	case main < 1000:
		return DomainEconomy
	}
	return DomainOther
}

var (
	// 連邦裁判所の事件番号 "4A_123/2024" の先頭数字が部を表す
	caseNumberPattern = regexp.MustCompile(`(\d)[A-Z]_`)
	// 公式判例集 "BGE 151 III 160" / "ATF 151 III 160" の巻区分
	leadingCaseVolume = regexp.MustCompile(`(?:BGE|ATF|DTF)\s+\d+\s+(IV|V|I{1,3})\b`)
)

var domainFromCasePrefix = map[string]string{
	"1": DomainPublic, "2": DomainPublic,
	"4": DomainCivil, "5": DomainCivil,
	"6": DomainCriminal, "7": DomainCriminal,
	"8": DomainSocial, "9": DomainSocial,
}

var domainFromVolume = map[string]string{
	"I": DomainPublic, "II": DomainCivil, "III": DomainCivil,
	"IV": DomainCriminal, "V": DomainSocial,
}

var domainFromChamber = map[string]string{
	"GE_CJ_001": DomainCriminal, "GE_CJ_002": DomainCriminal,
	"GE_CJ_007": DomainSocial, "GE_CJ_011": DomainAdministrative,
	"GE_CJ_013": DomainCivil, "GE_CJ_014": DomainTenancy,
	"VD_TC_002": DomainCriminal, "VD_TC_004": DomainCivil,
	"VD_TC_009": DomainAdministrative, "VD_TC_010": DomainCriminal,
	"VD_TC_013": DomainSocial, "VD_TC_031": DomainCivil,
}

// DomainFromDecision は判決の参照番号と裁判所階層から法分野を推定する。
// 事件番号、判例集の巻、州裁判所の部の順に判定する。
func DomainFromDecision(reference string, hierarchy []string) string {
	if m := caseNumberPattern.FindStringSubmatch(reference); m != nil {
		if d, ok := domainFromCasePrefix[m[1]]; ok {
			return d
		}
	}
	if m := leadingCaseVolume.FindStringSubmatch(reference); m != nil {
		if d, ok := domainFromVolume[m[1]]; ok {
			return d
		}
	}
	for _, h := range hierarchy {
		if d, ok := domainFromChamber[h]; ok {
			return d
		}
	}
	return DomainOther
}
