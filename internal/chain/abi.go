package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// dealABI is the subset of the CommunityDeal contract interface the client
// uses.
const dealABI = `[
  {"type":"function","name":"dealCounter","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getDealInfo","stateMutability":"view",
   "inputs":[{"name":"dealId","type":"uint256"}],
   "outputs":[
     {"name":"domainName","type":"string"},
     {"name":"creator","type":"address"},
     {"name":"targetPrice","type":"uint256"},
     {"name":"currentAmount","type":"uint256"},
     {"name":"participantCount","type":"uint256"},
     {"name":"deadline","type":"uint256"},
     {"name":"status","type":"uint8"},
     {"name":"purchased","type":"bool"},
     {"name":"domainTokenId","type":"uint256"},
     {"name":"fractionalTokenAddress","type":"address"},
     {"name":"minContribution","type":"uint256"},
     {"name":"maxParticipants","type":"uint256"}]},
  {"type":"function","name":"getParticipantInfo","stateMutability":"view",
   "inputs":[{"name":"dealId","type":"uint256"},{"name":"participant","type":"address"}],
   "outputs":[
     {"name":"contribution","type":"uint256"},
     {"name":"refunded","type":"bool"},
     {"name":"joinedAt","type":"uint256"}]},
  {"type":"function","name":"getDealParticipants","stateMutability":"view",
   "inputs":[{"name":"dealId","type":"uint256"}],
   "outputs":[{"name":"","type":"address[]"}]},
  {"type":"function","name":"getProposal","stateMutability":"view",
   "inputs":[{"name":"dealId","type":"uint256"},{"name":"proposalHash","type":"bytes32"}],
   "outputs":[
     {"name":"metadata","type":"string"},
     {"name":"creator","type":"address"},
     {"name":"deadline","type":"uint256"},
     {"name":"optionCount","type":"uint8"},
     {"name":"createdAt","type":"uint256"}]},
  {"type":"function","name":"getProposalVotes","stateMutability":"view",
   "inputs":[{"name":"dealId","type":"uint256"},{"name":"proposalHash","type":"bytes32"}],
   "outputs":[
     {"name":"voters","type":"address[]"},
     {"name":"options","type":"uint8[]"},
     {"name":"castAt","type":"uint256[]"}]},

  {"type":"function","name":"createCommunityDeal","stateMutability":"nonpayable",
   "inputs":[
     {"name":"domainName","type":"string"},
     {"name":"targetPrice","type":"uint256"},
     {"name":"minContribution","type":"uint256"},
     {"name":"maxParticipants","type":"uint256"},
     {"name":"durationInDays","type":"uint256"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"contribute","stateMutability":"payable",
   "inputs":[{"name":"dealId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"cancelDeal","stateMutability":"nonpayable",
   "inputs":[{"name":"dealId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"refund","stateMutability":"nonpayable",
   "inputs":[{"name":"dealId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"expireDeal","stateMutability":"nonpayable",
   "inputs":[{"name":"dealId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"markDomainPurchased","stateMutability":"nonpayable",
   "inputs":[{"name":"dealId","type":"uint256"},{"name":"tokenId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"setFractionalToken","stateMutability":"nonpayable",
   "inputs":[{"name":"dealId","type":"uint256"},{"name":"tokenAddress","type":"address"}],"outputs":[]},
  {"type":"function","name":"createProposal","stateMutability":"nonpayable",
   "inputs":[
     {"name":"dealId","type":"uint256"},
     {"name":"proposalHash","type":"bytes32"},
     {"name":"metadata","type":"string"},
     {"name":"deadline","type":"uint256"},
     {"name":"optionCount","type":"uint8"}],"outputs":[]},
  {"type":"function","name":"vote","stateMutability":"nonpayable",
   "inputs":[
     {"name":"dealId","type":"uint256"},
     {"name":"proposalHash","type":"bytes32"},
     {"name":"option","type":"uint8"}],"outputs":[]},

  {"type":"event","name":"DealCreated","anonymous":false,"inputs":[
     {"name":"dealId","type":"uint256","indexed":true},
     {"name":"creator","type":"address","indexed":true},
     {"name":"domainName","type":"string","indexed":false},
     {"name":"targetPrice","type":"uint256","indexed":false},
     {"name":"deadline","type":"uint256","indexed":false}]},
  {"type":"event","name":"ContributionMade","anonymous":false,"inputs":[
     {"name":"dealId","type":"uint256","indexed":true},
     {"name":"contributor","type":"address","indexed":true},
     {"name":"amount","type":"uint256","indexed":false},
     {"name":"totalAmount","type":"uint256","indexed":false}]},
  {"type":"event","name":"DealCancelled","anonymous":false,"inputs":[
     {"name":"dealId","type":"uint256","indexed":true}]},
  {"type":"event","name":"DealExpired","anonymous":false,"inputs":[
     {"name":"dealId","type":"uint256","indexed":true}]},
  {"type":"event","name":"RefundIssued","anonymous":false,"inputs":[
     {"name":"dealId","type":"uint256","indexed":true},
     {"name":"participant","type":"address","indexed":true},
     {"name":"amount","type":"uint256","indexed":false}]},
  {"type":"event","name":"DomainPurchased","anonymous":false,"inputs":[
     {"name":"dealId","type":"uint256","indexed":true},
     {"name":"tokenId","type":"uint256","indexed":false}]},
  {"type":"event","name":"FractionalTokenSet","anonymous":false,"inputs":[
     {"name":"dealId","type":"uint256","indexed":true},
     {"name":"tokenAddress","type":"address","indexed":false}]},
  {"type":"event","name":"ProposalCreated","anonymous":false,"inputs":[
     {"name":"dealId","type":"uint256","indexed":true},
     {"name":"proposalHash","type":"bytes32","indexed":true},
     {"name":"creator","type":"address","indexed":false}]},
  {"type":"event","name":"VoteCast","anonymous":false,"inputs":[
     {"name":"dealId","type":"uint256","indexed":true},
     {"name":"proposalHash","type":"bytes32","indexed":true},
     {"name":"voter","type":"address","indexed":true},
     {"name":"option","type":"uint8","indexed":false}]}
]`

func parseDealABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(dealABI))
}
