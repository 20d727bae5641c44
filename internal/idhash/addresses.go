package idhash

import (
	"encoding/binary"

	"futarchy-core/internal/domain"
)

// Program ids owning each family of derived addresses.
var (
	AmmProgramID        = domain.AddressFromSeed("futarchy-core/program/amm")
	VaultProgramID      = domain.AddressFromSeed("futarchy-core/program/conditional_vault")
	GovernanceProgramID = domain.AddressFromSeed("futarchy-core/program/governance")
	TokenProgramID      = domain.AddressFromSeed("futarchy-core/program/token")
	MemoProgramID       = domain.AddressFromSeed("futarchy-core/program/memo")
)

func u64le(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

// AmmAddress derives the pool for (base, quote, fee).
func AmmAddress(baseMint, quoteMint domain.Address, swapFeeBps uint64) domain.Address {
	return mustDerive(AmmProgramID, []byte("amm__"), baseMint[:], quoteMint[:], u64le(swapFeeBps))
}

// LpMintAddress derives the LP mint of a pool.
func LpMintAddress(amm domain.Address) domain.Address {
	return mustDerive(AmmProgramID, []byte("amm_lp_mint"), amm[:])
}

// QuestionAddress derives a question from its id, oracle and outcome count.
func QuestionAddress(questionID domain.QuestionID, oracle domain.Address, numOutcomes uint8) domain.Address {
	return mustDerive(VaultProgramID, []byte("question"), questionID[:], oracle[:], []byte{numOutcomes})
}

// VaultAddress derives the vault for (question, underlying mint).
func VaultAddress(question, underlyingMint domain.Address) domain.Address {
	return mustDerive(VaultProgramID, []byte("conditional_vault"), question[:], underlyingMint[:])
}

// ConditionalMintAddress derives outcome index's conditional mint of a vault.
func ConditionalMintAddress(vault domain.Address, index uint8) domain.Address {
	return mustDerive(VaultProgramID, []byte("conditional_token"), vault[:], []byte{index})
}

// DaoAddress derives a DAO from its mints and a creator-chosen nonce.
func DaoAddress(tokenMint, usdcMint domain.Address, nonce uint64) domain.Address {
	return mustDerive(GovernanceProgramID, []byte("dao"), tokenMint[:], usdcMint[:], u64le(nonce))
}

// TreasuryAddress derives the treasury signer of a DAO.
func TreasuryAddress(dao domain.Address) domain.Address {
	return mustDerive(GovernanceProgramID, []byte("dao_treasury"), dao[:])
}

// ProposalAddress derives the proposal numbered number in dao.
func ProposalAddress(dao domain.Address, number uint64) domain.Address {
	return mustDerive(GovernanceProgramID, []byte("proposal"), dao[:], u64le(number))
}

// LpLockAddress derives the treasury-owned account holding a proposal's
// locked LP tokens until it finalizes.
func LpLockAddress(proposal domain.Address) domain.Address {
	return mustDerive(GovernanceProgramID, []byte("proposal_lp_lock"), proposal[:])
}

// TokenAccountAddress derives the token account holding owner's balance of
// mint.
func TokenAccountAddress(owner, mint domain.Address) domain.Address {
	return mustDerive(TokenProgramID, owner[:], TokenProgramID[:], mint[:])
}
