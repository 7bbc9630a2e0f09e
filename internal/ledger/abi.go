package ledger

// contractABI is the full surface of the deployed consent/record contract.
// The contract itself is externally deployed and maintained; this binding
// must track its signatures exactly.
const contractABI = `[
  {"type":"function","name":"approveUser","stateMutability":"nonpayable",
   "inputs":[{"name":"_user","type":"address"}],"outputs":[]},
  {"type":"function","name":"revokeUser","stateMutability":"nonpayable",
   "inputs":[{"name":"_user","type":"address"}],"outputs":[]},
  {"type":"function","name":"isAdmin","stateMutability":"view",
   "inputs":[{"name":"","type":"address"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"isApprovedUser","stateMutability":"view",
   "inputs":[{"name":"","type":"address"}],
   "outputs":[{"name":"","type":"bool"}]},

  {"type":"function","name":"grantConsent","stateMutability":"nonpayable",
   "inputs":[{"name":"_doctor","type":"address"}],"outputs":[]},
  {"type":"function","name":"revokeConsent","stateMutability":"nonpayable",
   "inputs":[{"name":"_doctor","type":"address"}],"outputs":[]},
  {"type":"function","name":"checkConsent","stateMutability":"view",
   "inputs":[{"name":"_patient","type":"address"},{"name":"_doctor","type":"address"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"getPatientsForDoctor","stateMutability":"view",
   "inputs":[{"name":"_doctor","type":"address"}],
   "outputs":[{"name":"","type":"address[]"}]},

  {"type":"function","name":"addMedicalRecord","stateMutability":"nonpayable",
   "inputs":[{"name":"_patientAddress","type":"address"},{"name":"_encryptedData","type":"string"}],
   "outputs":[]},
  {"type":"function","name":"getMedicalRecord","stateMutability":"view",
   "inputs":[{"name":"_recordId","type":"uint256"}],
   "outputs":[{"name":"encryptedData","type":"string"},{"name":"patientAddress","type":"address"},
              {"name":"uploader","type":"address"},{"name":"timestamp","type":"uint256"}]},
  {"type":"function","name":"recordCount","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint256"}]},

  {"type":"event","name":"ConsentGranted","anonymous":false,
   "inputs":[{"name":"patient","type":"address","indexed":true},
             {"name":"doctor","type":"address","indexed":true}]},
  {"type":"event","name":"ConsentRevoked","anonymous":false,
   "inputs":[{"name":"patient","type":"address","indexed":true},
             {"name":"doctor","type":"address","indexed":true}]},
  {"type":"event","name":"MedicalRecordAdded","anonymous":false,
   "inputs":[{"name":"recordId","type":"uint256","indexed":true},
             {"name":"patientAddress","type":"address","indexed":true},
             {"name":"uploader","type":"address","indexed":true},
             {"name":"timestamp","type":"uint256","indexed":false}]}
]`
