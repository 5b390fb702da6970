package factory

// SmallFirmJSON is a four-person firm with two clients:
//
//	Pat  Partner                200/h
//	Sam  Solicitor              120/h  reports to Pat
//	Tia  Trainee Solicitor       80/h  reports to Sam
//	Bea  Billing Administrator
//
//	Acme Ltd (1001):  M-001 lease renewal (Pat), M-003 debt recovery (Sam)
//	Globex plc (1002): M-002 acquisition (Pat)
const SmallFirmJSON = `{
  "name": "Small Firm",
  "roles": [
    {"key": "partner",   "name": "Partner",               "rate": "200.00"},
    {"key": "solicitor", "name": "Solicitor",             "rate": "120.00"},
    {"key": "trainee",   "name": "Trainee Solicitor",     "rate": "80.00"},
    {"key": "billing",   "name": "Billing Administrator", "rate": "0"}
  ],
  "people": [
    {"key": "pat", "initials": "PAT", "name": "Pat Partner",   "user_id": "pat", "role": "partner"},
    {"key": "sam", "initials": "SAM", "name": "Sam Solicitor", "user_id": "sam", "role": "solicitor", "manager": "pat"},
    {"key": "tia", "initials": "TIA", "name": "Tia Trainee",   "user_id": "tia", "role": "trainee",   "manager": "sam"},
    {"key": "bea", "initials": "BEA", "name": "Bea Billing",   "user_id": "bea", "role": "billing"}
  ],
  "clients": [
    {"key": "acme",   "number": 1001, "name": "Acme Ltd"},
    {"key": "globex", "number": 1002, "name": "Globex plc"}
  ],
  "matters": [
    {"key": "m1", "number": "M-001", "description": "Lease renewal", "client": "acme",   "lead": "pat", "opened": "2025-01-06"},
    {"key": "m2", "number": "M-002", "description": "Acquisition",   "client": "globex", "lead": "pat", "opened": "2025-02-03"},
    {"key": "m3", "number": "M-003", "description": "Debt recovery", "client": "acme",   "lead": "sam", "opened": "2025-02-17"}
  ]
}`

// PartnershipJSON adds an associate partner and a cashier to the small
// firm's shape, with a closed matter.
const PartnershipJSON = `{
  "name": "Partnership",
  "roles": [
    {"key": "partner",   "name": "Equity Partner",    "rate": "300.00"},
    {"key": "associate", "name": "Associate Partner", "rate": "220.00"},
    {"key": "solicitor", "name": "Senior Associate",  "rate": "150.00"},
    {"key": "cashier",   "name": "Cashier",           "rate": "0"},
    {"key": "billing",   "name": "Billing Clerk",     "rate": "0"}
  ],
  "people": [
    {"key": "ella", "initials": "EP",  "name": "Ella Partner",   "user_id": "ella", "role": "partner"},
    {"key": "alan", "initials": "AAP", "name": "Alan Associate", "user_id": "alan", "role": "associate", "manager": "ella"},
    {"key": "sara", "initials": "SSA", "name": "Sara Senior",    "user_id": "sara", "role": "solicitor", "manager": "alan"},
    {"key": "cal",  "initials": "CC",  "name": "Cal Cashier",    "user_id": "cal",  "role": "cashier"},
    {"key": "bo",   "initials": "BC",  "name": "Bo Clerk",       "user_id": "bo",   "role": "billing"}
  ],
  "clients": [
    {"key": "initech", "number": 2001, "name": "Initech"},
    {"key": "umbrella", "number": 2002, "name": "Umbrella Corp"}
  ],
  "matters": [
    {"key": "p1", "number": "P-100", "description": "Employment dispute", "client": "initech",  "lead": "alan", "opened": "2024-11-04"},
    {"key": "p2", "number": "P-101", "description": "Trademark filing",   "client": "initech",  "lead": "ella", "opened": "2025-01-13"},
    {"key": "p3", "number": "P-200", "description": "Regulatory advice",  "client": "umbrella", "lead": "ella", "opened": "2024-06-03", "closed": "2024-12-20"}
  ]
}`
