package idhash

import (
	"bytes"
	"errors"
	"testing"

	"futarchy-core/internal/domain"
)

func TestFindProgramAddress_Deterministic(t *testing.T) {
	seeds := [][]byte{[]byte("question"), bytes.Repeat([]byte{7}, 32)}

	a1, bump1, err := FindProgramAddress(seeds, VaultProgramID)
	if err != nil {
		t.Fatalf("FindProgramAddress: %v", err)
	}
	a2, bump2, err := FindProgramAddress(seeds, VaultProgramID)
	if err != nil {
		t.Fatalf("FindProgramAddress: %v", err)
	}

	if a1 != a2 || bump1 != bump2 {
		t.Errorf("derivation not deterministic: %s/%d vs %s/%d", a1, bump1, a2, bump2)
	}
	if IsOnCurve(a1[:]) {
		t.Errorf("derived address %s is on the ed25519 curve", a1)
	}
}

func TestFindProgramAddress_ProgramScoped(t *testing.T) {
	seeds := [][]byte{[]byte("dao_treasury")}
	a, _, _ := FindProgramAddress(seeds, GovernanceProgramID)
	b, _, _ := FindProgramAddress(seeds, AmmProgramID)
	if a == b {
		t.Error("same seeds under different programs must differ")
	}
}

func TestFindProgramAddress_SeedTooLong(t *testing.T) {
	_, _, err := FindProgramAddress([][]byte{make([]byte, 33)}, AmmProgramID)
	if !errors.Is(err, ErrSeedTooLong) {
		t.Errorf("expected ErrSeedTooLong, got %v", err)
	}
}

func TestDerivedAddresses_Distinct(t *testing.T) {
	base := domain.AddressFromSeed("base")
	quote := domain.AddressFromSeed("quote")
	dao := DaoAddress(base, quote, 0)

	seen := map[domain.Address]string{}
	check := func(name string, a domain.Address) {
		t.Helper()
		if prev, ok := seen[a]; ok {
			t.Fatalf("%s collides with %s", name, prev)
		}
		seen[a] = name
	}

	amm := AmmAddress(base, quote, 30)
	check("amm", amm)
	check("amm fee 31", AmmAddress(base, quote, 31))
	check("amm swapped", AmmAddress(quote, base, 30))
	check("lp", LpMintAddress(amm))
	check("dao", dao)
	check("dao nonce 1", DaoAddress(base, quote, 1))
	check("treasury", TreasuryAddress(dao))
	check("proposal 1", ProposalAddress(dao, 1))
	check("proposal 2", ProposalAddress(dao, 2))
	check("lp lock 1", LpLockAddress(ProposalAddress(dao, 1)))

	var qid domain.QuestionID
	q := QuestionAddress(qid, TreasuryAddress(dao), 2)
	check("question", q)
	v := VaultAddress(q, base)
	check("vault", v)
	check("cond 0", ConditionalMintAddress(v, 0))
	check("cond 1", ConditionalMintAddress(v, 1))
	check("token account", TokenAccountAddress(base, quote))
}

func TestTreasuryAddress_Stable(t *testing.T) {
	dao := domain.AddressFromSeed("dao")
	if TreasuryAddress(dao) != TreasuryAddress(dao) {
		t.Error("treasury derivation not stable")
	}
}
