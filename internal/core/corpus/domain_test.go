package corpus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainFromRS(t *testing.T) {
	cases := map[string]string{
		"101":    DomainConstitutional,
		"220":    DomainCivil,
		"311.0":  DomainCriminal,
		"412.10": DomainEducation,
		"510.10": DomainDefense,
		"642.11": DomainFinance,
		"700":    DomainPlanning,
		"831.10": DomainSocial,
		"941.10": DomainEconomy,
		"0.101":  DomainConstitutional,
		"":       DomainOther,
		"abc":    DomainOther,
		"1200.1": DomainOther,
	}
	for rs, want := range cases {
		assert.Equal(t, want, DomainFromRS(rs), "rs=%q", rs)
	}
}

func TestDomainFromDecision(t *testing.T) {
	assert.Equal(t, DomainCivil, DomainFromDecision("4A_123/2024", nil))
	assert.Equal(t, DomainCriminal, DomainFromDecision("6B_55/2023", nil))
	assert.Equal(t, DomainSocial, DomainFromDecision("9C_1/2022", nil))
	assert.Equal(t, DomainCivil, DomainFromDecision("BGE 151 III 160", nil))
	assert.Equal(t, DomainCriminal, DomainFromDecision("ATF 149 IV 9", nil))
	assert.Equal(t, DomainSocial, DomainFromDecision("ATF 148 V 1", nil))
	assert.Equal(t, DomainPublic, DomainFromDecision("ATF 147 I 10", nil))
	assert.Equal(t, DomainTenancy, DomainFromDecision("ACJC/12/2024", []string{"GE", "GE_CJ", "GE_CJ_014"}))
	assert.Equal(t, DomainOther, DomainFromDecision("unknown", []string{"ZH_OG"}))
}

func TestFilterMatches(t *testing.T) {
	doc := &Document{Jurisdiction: "GE", LegalDomain: DomainFiscal, Kind: KindLegislation}

	assert.True(t, Filter{}.Matches(doc))
	assert.True(t, Filter{Jurisdiction: "GE", Kind: KindLegislation}.Matches(doc))
	assert.False(t, Filter{Jurisdiction: "VD"}.Matches(doc))
	assert.False(t, Filter{LegalDomain: DomainCivil}.Matches(doc))
	assert.False(t, Filter{Kind: KindJurisprudence}.Matches(doc))
}
